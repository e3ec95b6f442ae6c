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

// Package config loads the placer configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thediveo/placer"
	"github.com/thediveo/placer/cpus"
	"github.com/thediveo/placer/topology"
)

// Config controls where threads get placed.
type Config struct {
	// PreferredSocket is the socket to place threads on first.
	PreferredSocket uint `yaml:"preferredSocket"`
	// SharedCPU is the CPU threads with the shared policy get pinned to.
	SharedCPU uint `yaml:"sharedCpu"`
	// Skip lists the CPUs never to allocate, such as “0,2-3”.
	Skip string `yaml:"skip"`
	// SysfsRoot is the sysfs NUMA node directory to read the topology from.
	SysfsRoot string `yaml:"sysfsRoot"`

	// Workers is the number of worker threads to start.
	Workers int `yaml:"workers"`
	// SpawnInterval is the delay between starting workers.
	SpawnInterval time.Duration `yaml:"spawnInterval"`
	// MainPolicy is the placement policy of the main thread.
	MainPolicy placer.Policy `yaml:"mainPolicy"`
	// WorkerPolicy is the placement policy of the worker threads.
	WorkerPolicy placer.Policy `yaml:"workerPolicy"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		SysfsRoot:     topology.DefaultSysfsRoot,
		Workers:       240,
		SpawnInterval: time.Second,
		MainPolicy:    placer.Shared,
		WorkerPolicy:  placer.BestEffort,
	}
}

// Load returns the configuration from the specified YAML file, with unset
// fields taking their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read configuration: %w", err)
	}
	return Parse(data)
}

// Parse returns the configuration from the specified YAML data, with unset
// fields taking their defaults. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("invalid number of workers %d", c.Workers)
	}
	if c.SpawnInterval < 0 {
		return fmt.Errorf("invalid spawn interval %s", c.SpawnInterval)
	}
	if _, err := c.SkipList(); err != nil {
		return err
	}
	return nil
}

// SkipList returns the list of CPUs never to allocate.
func (c Config) SkipList() (cpus.List, error) {
	list, err := cpus.NewList([]byte(c.Skip))
	if err != nil {
		return nil, fmt.Errorf("invalid skip list %q: %w", c.Skip, err)
	}
	return list, nil
}

// Options returns the options for creating a [placer.Placer] according to
// this configuration.
func (c Config) Options() []placer.Option {
	if c.SysfsRoot == "" {
		return nil
	}
	return []placer.Option{placer.WithSource(topology.NewSysfs(c.SysfsRoot))}
}

// NewPlacer returns a new Placer according to this configuration, with the
// CPUs in the skip list already taken out of allocation.
func (c Config) NewPlacer(opts ...placer.Option) (*placer.Placer, error) {
	skip, err := c.SkipList()
	if err != nil {
		return nil, err
	}
	p := placer.New(c.PreferredSocket, c.SharedCPU, append(c.Options(), opts...)...)
	for cpu := range skip.All() {
		p.Skip(cpu)
	}
	return p, nil
}
