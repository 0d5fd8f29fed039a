package relay

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 为每个角色保存一个编排流程。
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	defaultID string
}

func NewRegistry(defaultID string) *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline), defaultID: defaultID}
}

// Register 以角色 id 注册 p。
func (r *Registry) Register(p *Pipeline) error {
	id := p.Persona().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[id]; exists {
		return fmt.Errorf("pipeline for persona %s already registered", id)
	}
	r.pipelines[id] = p
	return nil
}

// Get 查找 id，id 为空时返回默认角色。
func (r *Registry) Get(id string) (*Pipeline, bool) {
	if id == "" {
		id = r.defaultID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	return p, ok
}

// IDs 返回已注册的角色 id，已排序。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait 等待所有流程的后台任务结束。
func (r *Registry) Wait() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pipelines {
		p.Wait()
	}
}
