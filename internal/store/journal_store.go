package store

import (
	"github.com/nextlevelbuilder/hermit/internal/journal"
)

// JournalStore writes and reads daily journal entries.
type JournalStore interface {
	Append(content string, opts journal.EntryOptions) (string, error)
	Read(date string) (string, error)
	Body(date string) (string, error)
	ReadMeta(date string) (*journal.Meta, error)
	Exists(date string) bool
	List(limit int) ([]string, error)
	Today() string
}
