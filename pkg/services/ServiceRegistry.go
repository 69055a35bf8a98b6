// Package services with the client-local registry of services available to the application
package services

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
)

// RemoteAware is implemented by local service instances that want to be bridged with
// the remote instance of a shared service
type RemoteAware interface {
	AttachRemote(remote *communication.Proxy)
}

// ServiceEntry is a registered service.
// A service can have a remote proxy, a local instance, or both when it is shared.
type ServiceEntry struct {
	// Name the service is registered under
	Name string
	// Descriptor of the remote service, nil for local-only services
	Descriptor *communication.ServiceDescriptor
	// Remote proxy, nil for local-only services
	Remote *communication.Proxy
	// Local instance, nil for remote-only services
	Local any
}

// Bridged returns true if the entry has both a local and a remote instance
func (entry *ServiceEntry) Bridged() bool {
	return entry.Local != nil && entry.Remote != nil
}

// ServiceRegistry is the in-memory registry of services by name
type ServiceRegistry struct {
	// serviceMap holds the entries by service name
	serviceMap map[string]*ServiceEntry

	// serviceMapMutex for safe concurrent access to the registry
	serviceMapMutex sync.RWMutex
}

// RegisterLocal adds or replaces the local instance of a service.
// If the remote side was already bridged it is attached to the new instance.
func (reg *ServiceRegistry) RegisterLocal(name string, local any) {
	reg.serviceMapMutex.Lock()
	entry, found := reg.serviceMap[name]
	if !found {
		entry = &ServiceEntry{Name: name}
		reg.serviceMap[name] = entry
	}
	entry.Local = local
	remote := entry.Remote
	reg.serviceMapMutex.Unlock()

	if aware, ok := local.(RemoteAware); ok && remote != nil {
		aware.AttachRemote(remote)
	}
}

// Bridge adds the remote side of a service.
//
// Shared services that also have a local instance are merged into one entry and the
// local instance is given the remote proxy if it is RemoteAware. Non-shared remote
// services replace any local instance of the same name.
//
//  descriptor of the remote service
//  remote proxy of the service
// This returns the resulting entry.
func (reg *ServiceRegistry) Bridge(descriptor communication.ServiceDescriptor, remote *communication.Proxy) *ServiceEntry {
	reg.serviceMapMutex.Lock()
	entry, found := reg.serviceMap[descriptor.Name]
	if !found {
		entry = &ServiceEntry{Name: descriptor.Name}
		reg.serviceMap[descriptor.Name] = entry
	}
	entry.Descriptor = &descriptor
	entry.Remote = remote
	if !descriptor.Shared && entry.Local != nil {
		logrus.Infof("ServiceRegistry.Bridge: remote service '%s' replaces the local instance", descriptor.Name)
		entry.Local = nil
	}
	local := entry.Local
	reg.serviceMapMutex.Unlock()

	if aware, ok := local.(RemoteAware); ok {
		aware.AttachRemote(remote)
	}
	return entry
}

// GetByName returns the entry of the service with the given name, or nil if not registered
func (reg *ServiceRegistry) GetByName(name string) *ServiceEntry {
	reg.serviceMapMutex.RLock()
	defer reg.serviceMapMutex.RUnlock()
	return reg.serviceMap[name]
}

// GetNames returns the sorted names of the registered services
func (reg *ServiceRegistry) GetNames() []string {
	reg.serviceMapMutex.RLock()
	defer reg.serviceMapMutex.RUnlock()
	names := make([]string, 0, len(reg.serviceMap))
	for name := range reg.serviceMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveRemote drops all remote proxies, for example after a logout.
// Local instances stay registered, remote-only entries are removed.
func (reg *ServiceRegistry) RemoveRemote() {
	reg.serviceMapMutex.Lock()
	defer reg.serviceMapMutex.Unlock()
	for name, entry := range reg.serviceMap {
		if entry.Local == nil {
			delete(reg.serviceMap, name)
			continue
		}
		entry.Remote = nil
		entry.Descriptor = nil
	}
}

// NewServiceRegistry creates an empty registry
func NewServiceRegistry() *ServiceRegistry {
	reg := &ServiceRegistry{
		serviceMap: make(map[string]*ServiceEntry),
	}
	return reg
}
