package services

import "sync/atomic"

// UnreadCounter compte les notifications reçues depuis la dernière consultation.
// Purement local: rien n'est stocké côté serveur, la valeur est perdue au redémarrage.
type UnreadCounter struct {
	n atomic.Int64
}

func (c *UnreadCounter) Increment() { c.n.Add(1) }

func (c *UnreadCounter) Reset() { c.n.Store(0) }

func (c *UnreadCounter) Value() int { return int(c.n.Load()) }
