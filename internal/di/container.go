// internal/di/container.go
package di

import (
	"fmt"
	"sort"
	"sync"
)

// Container 是一个简单的依赖注入容器，由启动代码显式创建并传递
type Container struct {
	services map[string]interface{}
	closers  []func()
	closed   bool
	mutex    sync.RWMutex
}

// NewContainer 创建一个新的依赖注入容器
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// Register 在容器中注册一个服务实例，同名服务会被覆盖
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// Get 从容器中获取一个服务实例，不存在时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.services[name]
}

// MustGet 与 Get 相同，服务不存在时 panic
func (c *Container) MustGet(name string) interface{} {
	service := c.Get(name)
	if service == nil {
		panic(fmt.Sprintf("服务未注册: %s", name))
	}
	return service
}

// Has 检查容器中是否存在指定名称的服务
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// GetNames 按字母顺序返回所有已注册服务的名称
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// OnClose 注册关闭回调，Close 时按注册的逆序执行
func (c *Container) OnClose(fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closers = append(c.closers, fn)
}

// Close 执行所有关闭回调并清空容器，重复调用无效果
func (c *Container) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.services = make(map[string]interface{})
	c.mutex.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
