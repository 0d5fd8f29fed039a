package mention

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnresolved 表示注册表与解析器都无法识别该 id。
var ErrUnresolved = errors.New("mention could not be resolved")

// Resolver 从平台查询显示名。
type Resolver interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// Directory 是并发安全的 id 与显示名双向注册表。名称从入站事件中学习，
// 未命中时可回退到平台 Resolver。
type Directory struct {
	mu       sync.RWMutex
	names    map[string]string
	ids      map[string]string
	resolver Resolver
}

// NewDirectory 创建空注册表，resolver 可为 nil。
func NewDirectory(resolver Resolver) *Directory {
	return &Directory{
		names:    make(map[string]string),
		ids:      make(map[string]string),
		resolver: resolver,
	}
}

// Learn 记录发送者的显示名，同名时以最新的 id 为准。
func (d *Directory) Learn(id, name string) {
	name = strings.TrimSpace(name)
	if id == "" || !validDisplayName(name) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.names[id]; ok && old != name {
		delete(d.ids, strings.ToLower(old))
	}
	d.names[id] = name
	d.ids[strings.ToLower(name)] = id
}

// Name 返回 id 对应的显示名。
func (d *Directory) Name(ctx context.Context, id string) (string, error) {
	d.mu.RLock()
	name, ok := d.names[id]
	d.mu.RUnlock()
	if ok {
		return name, nil
	}
	if d.resolver == nil {
		return "", ErrUnresolved
	}

	name, err := d.resolver.DisplayName(ctx, id)
	if err != nil {
		return "", errors.Join(ErrUnresolved, err)
	}
	if !validDisplayName(name) {
		return "", ErrUnresolved
	}
	d.Learn(id, name)
	return name, nil
}

// ID 返回显示名对应的 id，不区分大小写。
func (d *Directory) ID(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// NameFunc 将 Name 适配为 Codec 所需的解析函数。onMiss 非空时，
// 会收到降级为占位符的 id。
func (d *Directory) NameFunc(ctx context.Context, onMiss func(id string, err error)) func(string) (string, bool) {
	return func(id string) (string, bool) {
		name, err := d.Name(ctx, id)
		if err != nil {
			if onMiss != nil {
				onMiss(id, err)
			}
			return "", false
		}
		return name, true
	}
}
