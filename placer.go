// Copyright 2024 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy
// of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package placer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/thediveo/placer/cpus"
	"github.com/thediveo/placer/topology"
)

// skipped is the usage count of CPUs taken out of allocation, way beyond any
// count reached by allocating.
const skipped = 10000

// ErrNoCPUs indicates that there are no CPUs to place a thread on, such as
// when no topology information is available.
var ErrNoCPUs = errors.New("no CPUs available for placement")

// Placer places threads on CPUs, keeping track of how many threads have been
// placed on each CPU. A Placer is safe for concurrent use by multiple go
// routines.
type Placer struct {
	topo            *topology.Topology
	preferredSocket uint
	sharedCPU       uint
	log             logr.Logger
	pin             func(cpus.Set) error // restricts the calling thread

	mu   sync.Mutex // protects used
	used [topology.MaxCPUThreads]uint
}

// Option configures a Placer when creating it using [New].
type Option func(*options)

type options struct {
	src topology.Source
	log logr.Logger
}

// WithLogger sets the logger for diagnostics; by default, diagnostics are
// discarded.
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithSource sets the topology source to probe; it defaults to the sysfs
// NUMA node hierarchy at [topology.DefaultSysfsRoot].
func WithSource(src topology.Source) Option {
	return func(o *options) { o.src = src }
}

// New returns a new Placer for the topology of this system. The preferred
// socket and shared CPU are ignored in favor of socket 0 and CPU 0 when they
// don't exist on this system.
func New(preferredSocket, sharedCPU uint, opts ...Option) *Placer {
	o := options{
		src: topology.NewSysfs(topology.DefaultSysfsRoot),
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Placer{
		topo: topology.Probe(o.src, o.log),
		log:  o.log,
		pin:  func(set cpus.Set) error { return set.PinTask(0) },
	}
	if preferredSocket < p.topo.SocketCount() {
		p.preferredSocket = preferredSocket
	}
	if sharedCPU < p.topo.ThreadCount() {
		p.sharedCPU = sharedCPU
	}
	return p
}

// Topology returns the topology the Placer places threads on.
func (p *Placer) Topology() *topology.Topology { return p.topo }

// PreferredSocket returns the socket favored when placing threads.
func (p *Placer) PreferredSocket() uint { return p.preferredSocket }

// SharedCPU returns the CPU used by the [Shared] policy.
func (p *Placer) SharedCPU() uint { return p.sharedCPU }

// Usage returns the number of threads placed on the specified CPU so far.
func (p *Placer) Usage(cpu uint) uint {
	if cpu >= topology.MaxCPUThreads {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[cpu]
}

// Skip takes the specified CPU permanently out of allocation. Skipping a CPU
// not in the topology does nothing.
func (p *Placer) Skip(cpu uint) {
	if cpu >= p.topo.ThreadCount() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used[cpu] = skipped
}

// Allocate returns a CPU for a new thread, and accounts the thread to it. In
// order of preference, Allocate returns
//   - the lowest-numbered unused CPU of the preferred socket,
//   - the lowest-numbered unused CPU of any socket,
//   - the lowest-numbered CPU with the least threads.
//
// Allocate returns [ErrNoCPUs] when the topology has no CPUs.
func (p *Placer) Allocate() (uint, error) {
	threads := p.topo.ThreadCount()
	if threads == 0 {
		return 0, ErrNoCPUs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cpu, ok := p.unused(threads, true)
	if !ok {
		cpu, ok = p.unused(threads, false)
	}
	if !ok {
		cpu = p.leastUsed(threads)
	}
	p.used[cpu]++
	return cpu, nil
}

// unused returns the lowest-numbered unused CPU, optionally only on the
// preferred socket. The caller must hold the lock.
func (p *Placer) unused(threads uint, preferredOnly bool) (uint, bool) {
	for cpu := range threads {
		if p.used[cpu] != 0 {
			continue
		}
		if !preferredOnly || p.topo.SocketOf(cpu) == p.preferredSocket {
			return cpu, true
		}
	}
	return 0, false
}

// leastUsed returns the lowest-numbered CPU with the least threads. The
// caller must hold the lock.
func (p *Placer) leastUsed(threads uint) uint {
	least := uint(0)
	for cpu := range threads {
		if p.used[cpu] < p.used[least] {
			least = cpu
		}
	}
	return least
}

// Placement returns the CPUs to pin a thread to for the specified policy.
// For the [Shared] and [BestEffort] policies, the thread is accounted to the
// CPU returned, so each call places another thread.
func (p *Placer) Placement(policy Policy) (cpus.Set, error) {
	threads := p.topo.ThreadCount()
	if threads == 0 {
		return nil, ErrNoCPUs
	}
	switch policy {
	case All:
		return cpus.Set{}.AddRange(0, threads-1), nil
	case Socket:
		var set cpus.Set
		for cpu := range threads {
			if p.topo.SocketOf(cpu) == p.preferredSocket {
				set = set.AddRange(cpu, cpu)
			}
		}
		if set.Count() == 0 {
			return nil, ErrNoCPUs
		}
		return set, nil
	case Shared:
		p.mu.Lock()
		p.used[p.sharedCPU]++
		p.mu.Unlock()
		return cpus.Set{}.AddRange(p.sharedCPU, p.sharedCPU), nil
	case BestEffort:
		cpu, err := p.Allocate()
		if err != nil {
			return nil, err
		}
		return cpus.Set{}.AddRange(cpu, cpu), nil
	}
	return nil, fmt.Errorf("invalid placement policy %d", int(policy))
}

// Bind names the calling thread and pins it to CPUs according to the
// specified policy. Bind locks the calling go routine to its current OS-level
// thread and never unlocks it, as the thread is now tainted.
//
// Binding only affects the calling thread. If there are no CPUs to pin to,
// the thread still gets named, but stays unpinned and Bind returns an error
// wrapping [ErrNoCPUs].
func (p *Placer) Bind(name string, policy Policy) error {
	runtime.LockOSThread()
	if err := SetThreadName(name); err != nil {
		p.log.V(1).Info("cannot name thread", "thread", name, "error", err.Error())
	}
	set, err := p.Placement(policy)
	if err != nil {
		return fmt.Errorf("cannot bind thread %q: %w", name, err)
	}
	if cpu, ok := set.Single(); ok && policy == BestEffort {
		p.log.Info("binding thread", "thread", name, "cpu", cpu)
	} else {
		p.log.V(1).Info("binding thread",
			"thread", name, "tid", unix.Gettid(), "policy", policy.String(), "cpus", set.String())
	}
	if err := p.pin(set); err != nil {
		return fmt.Errorf("cannot bind thread %q to cpus %s: %w", name, set, err)
	}
	return nil
}
