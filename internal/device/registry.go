// Package device implements the sensor registry: the set of monitored points and the agent pause flag.
package device

import (
	"sync"

	"plc_agent/internal/types"
)

// Registry is the thread-safe, ordered set of monitored points.
// Mutations hold the lock only for the mutation itself and then publish
// a revision to every subscriber.
type Registry struct {
	mutex       sync.RWMutex
	sensors     []types.SensorDescriptor
	paused      bool
	subscribers map[int]chan []types.SensorDescriptor
	nextSubID   int
}

// State is a consistent view of the registry at one instant.
type State struct {
	Sensors []types.SensorDescriptor
	Paused  bool
}

// NewRegistry creates an empty, unpaused registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[int]chan []types.SensorDescriptor),
	}
}

// Add appends a sensor. A sensor with the same id is overwritten in place.
func (r *Registry) Add(sensor types.SensorDescriptor) {
	sensor = sensor.Normalize()

	r.mutex.Lock()
	if i := r.indexOf(sensor.ID); i >= 0 {
		r.sensors[i] = sensor
	} else {
		r.sensors = append(r.sensors, sensor)
	}
	r.notifyLocked()
	r.mutex.Unlock()
}

// Remove deletes every sensor with the given id and emits a revision even when nothing matched.
// It reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	kept := r.sensors[:0]
	for _, s := range r.sensors {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	removed := len(kept) != len(r.sensors)
	// zero the tail so dropped descriptors do not linger in the backing array
	for i := len(kept); i < len(r.sensors); i++ {
		r.sensors[i] = types.SensorDescriptor{}
	}
	r.sensors = kept
	r.notifyLocked()
	return removed
}

// Edit replaces the fields of the sensor with the given id, keeping its position.
// An unknown id is appended. It reports whether an existing entry was edited.
func (r *Registry) Edit(id string, sensor types.SensorDescriptor) bool {
	sensor.ID = id
	sensor = sensor.Normalize()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.indexOf(id)
	if i >= 0 {
		r.sensors[i] = sensor
	} else {
		r.sensors = append(r.sensors, sensor)
	}
	r.notifyLocked()
	return i >= 0
}

// Clear drops every sensor.
func (r *Registry) Clear() {
	r.mutex.Lock()
	r.sensors = nil
	r.notifyLocked()
	r.mutex.Unlock()
}

// TogglePause flips the pause flag and returns the new state.
func (r *Registry) TogglePause() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.paused = !r.paused
	return r.paused
}

// Paused reports whether the agent is paused.
func (r *Registry) Paused() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.paused
}

// Snapshot returns a copy of the current sensors in insertion order.
func (r *Registry) Snapshot() []types.SensorDescriptor {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.copyLocked()
}

// State returns the sensors and the pause flag under a single lock.
func (r *Registry) State() State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return State{Sensors: r.copyLocked(), Paused: r.paused}
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sensors)
}

// Subscribe returns a feed of registry revisions and a cancel function.
// The feed holds at most one pending revision; a slow reader only ever
// sees the latest one.
func (r *Registry) Subscribe() (<-chan []types.SensorDescriptor, func()) {
	ch := make(chan []types.SensorDescriptor, 1)

	r.mutex.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = ch
	r.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mutex.Lock()
			delete(r.subscribers, id)
			r.mutex.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Registry) indexOf(id string) int {
	for i, s := range r.sensors {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) copyLocked() []types.SensorDescriptor {
	out := make([]types.SensorDescriptor, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// notifyLocked must be called with the write lock held. Sends never block.
func (r *Registry) notifyLocked() {
	for _, ch := range r.subscribers {
		snapshot := r.copyLocked()
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
