package store

import (
	"github.com/nextlevelbuilder/hermit/internal/memory"
)

// MemoryStore is the memory surface the agent loop, tools and CLI consume.
type MemoryStore interface {
	WriteFact(title, content string, tags []string, opts memory.FactOptions) (*memory.Item, error)
	WriteDecision(title, content string, tags []string, opts memory.DecisionOptions) (*memory.Item, error)
	WriteGoal(title, content string, tags []string, opts memory.GoalOptions) (*memory.Item, error)
	WriteTask(title, content string, tags []string, opts memory.TaskOptions) (*memory.Item, error)
	WriteReflection(title, content string, tags []string, opts memory.ReflectionOptions) (*memory.Item, error)
	Get(id string) (*memory.Item, error)
	List(category memory.Category, opts memory.ListOptions) ([]*memory.Item, error)
	Search(query string, limit int) ([]memory.SearchResult, error)
	Update(id string, mutate func(*memory.Item) error) (*memory.Item, error)
	Delete(id string) (bool, error)
	BuildContext() (string, error)
}
