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

// placerdemo starts a number of idle worker threads, pinning each of them
// using a thread placer, so that their placement can be watched using tools
// such as “ps -eLo tid,psr,comm”.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/thediveo/placer"
	"github.com/thediveo/placer/config"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	workers := flag.Int("workers", -1, "number of worker threads, overriding the configuration")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	log := funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: *verbosity})

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Error(err, "cannot start")
			os.Exit(1)
		}
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, log); err != nil {
		log.Error(err, "cannot start")
		os.Exit(1)
	}
}

// run binds the calling go routine as the main thread and then spawns the
// configured number of workers, one after another, until done.
func run(ctx context.Context, cfg config.Config, log logr.Logger) error {
	p, err := cfg.NewPlacer(placer.WithLogger(log))
	if err != nil {
		return err
	}
	log.Info("probed topology",
		"topology", p.Topology().String(),
		"preferredSocket", p.PreferredSocket(),
		"sharedCpu", p.SharedCPU())

	if err := p.Bind("placer_main", cfg.MainPolicy); err != nil {
		log.Error(err, "running main thread unpinned")
	}

	ticker := time.NewTicker(max(cfg.SpawnInterval, time.Millisecond))
	defer ticker.Stop()
	for id := range cfg.Workers {
		go worker(ctx, p, id, cfg.WorkerPolicy, log)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	<-ctx.Done()
	return nil
}

// worker binds itself and then idles until done.
func worker(ctx context.Context, p *placer.Placer, id int, policy placer.Policy, log logr.Logger) {
	name := fmt.Sprintf("worker_%d", id)
	if err := p.Bind(name, policy); err != nil {
		log.Error(err, "running worker unpinned", "thread", name)
	}
	<-ctx.Done()
}
