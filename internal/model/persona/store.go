package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store 为 HTTP 处理器与编排流程提供角色查询。
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore 基于内存切片实现 Store。
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore 返回预加载给定角色的 MemoryStore，写入时补全默认值。
func NewMemoryStore(items []Persona) *MemoryStore {
	normalized := make([]Persona, 0, len(items))
	for _, item := range items {
		normalized = append(normalized, item.WithDefaults())
	}
	return &MemoryStore{items: normalized}
}

// List 返回角色列表。
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID 按 id 查找角色。
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile 从形如 `personas: [...]` 的 YAML 文档读取角色。
func LoadFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var doc personaFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	seen := make(map[string]struct{}, len(doc.Personas))
	for i, p := range doc.Personas {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("persona #%d: id and name are required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("persona %q defined twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return doc.Personas, nil
}
