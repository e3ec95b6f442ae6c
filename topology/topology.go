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

package topology

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/thediveo/placer/cpus"
)

// Upper bounds on the topology sizes handled; sockets and CPUs beyond are
// silently ignored.
const (
	MaxSockets    = 16
	MaxCPUThreads = 256
)

// Topology describes which socket each logical CPU belongs to. Sockets are
// numbered in the order they were discovered, starting from zero, independent
// of their OS-level NUMA node numbers.
//
// A Topology is immutable and thus safe for concurrent use.
type Topology struct {
	nodes   []uint // OS-level NUMA node numbers, indexed by socket
	threads uint
	sockets [MaxCPUThreads]uint8
}

// SocketCount returns the number of sockets discovered.
func (t *Topology) SocketCount() uint { return uint(len(t.nodes)) }

// ThreadCount returns the number of logical CPUs discovered. Logical CPUs
// are numbered from 0 to ThreadCount()-1.
func (t *Topology) ThreadCount() uint { return t.threads }

// SocketOf returns the socket of the specified logical CPU. Logical CPUs never
// reported by any socket belong to socket 0.
func (t *Topology) SocketOf(cpu uint) uint {
	if cpu >= MaxCPUThreads {
		return 0
	}
	return uint(t.sockets[cpu])
}

// Node returns the OS-level NUMA node number of the specified socket.
func (t *Topology) Node(socket uint) (uint, bool) {
	if socket >= uint(len(t.nodes)) {
		return 0, false
	}
	return t.nodes[socket], true
}

// SocketCPUs returns the logical CPUs in [0, ThreadCount()) belonging to the
// specified socket.
func (t *Topology) SocketCPUs(socket uint) cpus.List {
	var set cpus.Set
	for cpu := range t.threads {
		if uint(t.sockets[cpu]) == socket {
			set = set.AddRange(cpu, cpu)
		}
	}
	return set.List()
}

func (t *Topology) String() string {
	return fmt.Sprintf("%d sockets, %d cpus", t.SocketCount(), t.threads)
}

// Probe discovers the topology from the specified source. Probe never fails:
// unreadable information counts as no information and malformed lists count
// as far as they could be parsed, with anomalies getting logged.
//
// The CPUs of each socket are read using the socket's OS-level NUMA node
// number, so sparse node numbers such as “0,3” read node0 and node3, while
// still becoming sockets 0 and 1.
//
// The number of logical CPUs is the total number of CPUs listed over all
// sockets. A CPU listed for multiple sockets counts multiple times and
// belongs to the socket it was last listed for.
func Probe(src Source, log logr.Logger) *Topology {
	t := &Topology{}
	nodes := parse(log, src.Sockets, MaxSockets, "sockets")
	t.nodes = make([]uint, len(nodes))
	copy(t.nodes, nodes)

	var seen cpus.Set
	for socket, node := range t.nodes {
		threads := parse(log, func() ([]byte, error) { return src.CPUs(node) },
			MaxCPUThreads, fmt.Sprintf("node%d", node))
		var set cpus.Set
		for _, cpu := range threads {
			if cpu >= MaxCPUThreads || t.threads >= MaxCPUThreads {
				continue
			}
			t.sockets[cpu] = uint8(socket)
			t.threads++
			set = set.AddRange(cpu, cpu)
		}
		if seen.IsOverlapping(set) {
			log.Info("cpus reported for multiple sockets",
				"socket", socket, "cpus", seen.Overlap(set).String())
		}
		seen = seen.Union(set)
	}
	log.V(1).Info("probed topology", "sockets", t.SocketCount(), "cpus", t.threads)
	return t
}

// parse reads a CPU list using the specified reader and returns the list's
// CPUs, logging any anomalies.
func parse(log logr.Logger, read func() ([]byte, error), limit int, what string) []uint {
	text, err := read()
	if err != nil {
		log.V(1).Info("topology information unavailable", "source", what, "error", err.Error())
		return nil
	}
	list, err := cpus.ParseList(text, limit)
	var serr *cpus.SyntaxError
	if errors.As(err, &serr) {
		log.Info("malformed CPU list",
			"source", what, "offset", serr.Offset, "expected", serr.Expected)
	}
	return list
}
