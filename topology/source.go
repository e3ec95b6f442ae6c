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
	"fmt"
	"io/fs"
	"os"
)

// DefaultSysfsRoot is the sysfs directory describing the NUMA nodes of the
// running system.
const DefaultSysfsRoot = "/sys/devices/system/node"

// Source supplies the raw textual NUMA topology information, using the CPU
// list format (such as “0-3,7”) for both the online sockets and the CPUs of
// each individual socket.
type Source interface {
	// Sockets returns the list of online sockets (NUMA nodes).
	Sockets() ([]byte, error)
	// CPUs returns the list of logical CPUs of the socket with the specified
	// OS-level socket (NUMA node) number.
	CPUs(node uint) ([]byte, error)
}

// Sysfs is a [Source] reading from the Linux sysfs NUMA node hierarchy, or a
// file system mirroring it.
type Sysfs struct {
	fsys fs.FS
}

var _ Source = (*Sysfs)(nil)

// NewSysfs returns a Sysfs source reading from the specified sysfs NUMA node
// directory, typically [DefaultSysfsRoot].
func NewSysfs(root string) *Sysfs {
	return NewSysfsFS(os.DirFS(root))
}

// NewSysfsFS returns a Sysfs source reading from the specified file system,
// which needs to be laid out as the sysfs NUMA node directory is.
func NewSysfsFS(fsys fs.FS) *Sysfs {
	return &Sysfs{fsys: fsys}
}

// Sockets returns the contents of the “online” node list.
func (s *Sysfs) Sockets() ([]byte, error) {
	return fs.ReadFile(s.fsys, "online")
}

// CPUs returns the contents of the “cpulist” of the specified node.
func (s *Sysfs) CPUs(node uint) ([]byte, error) {
	return fs.ReadFile(s.fsys, fmt.Sprintf("node%d/cpulist", node))
}
