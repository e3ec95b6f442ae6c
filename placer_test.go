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
	"os"
	"sync"
	"testing/fstest"

	"github.com/go-logr/logr/funcr"

	"github.com/thediveo/placer/cpus"
	"github.com/thediveo/placer/topology"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/success"
)

// allocations returns the CPUs of n subsequent allocations.
func allocations(p *Placer, n int) []uint {
	GinkgoHelper()
	cpus := make([]uint, 0, n)
	for range n {
		cpus = append(cpus, Successful(p.Allocate()))
	}
	return cpus
}

// bindInThrowawayThread binds a fresh go routine, so that the tainted OS-level
// thread gets thrown away afterwards, returning the name of the thread as seen
// after binding together with Bind's result.
func bindInThrowawayThread(p *Placer, name string, policy Policy) (string, error) {
	GinkgoHelper()
	type result struct {
		err  error
		name string
	}
	done := make(chan result)
	go func() {
		defer GinkgoRecover()
		err := p.Bind(name, policy)
		threadname, _ := ThreadName()
		done <- result{err: err, name: threadname}
	}()
	res := <-done
	return res.name, res.err
}

var _ = Describe("placer", func() {

	When("creating", func() {

		It("uses the preferred socket and shared CPU when they exist", func() {
			p := New(1, 7, WithSource(fakeSockets("0-3", "4-7")))
			Expect(p.Topology().ThreadCount()).To(Equal(uint(8)))
			Expect(p.PreferredSocket()).To(Equal(uint(1)))
			Expect(p.SharedCPU()).To(Equal(uint(7)))
		})

		It("falls back to socket 0 and CPU 0", func() {
			p := New(2, 8, WithSource(fakeSockets("0-3", "4-7")))
			Expect(p.PreferredSocket()).To(BeZero())
			Expect(p.SharedCPU()).To(BeZero())
		})

		It("probes the system by default", func() {
			p := New(0, 0, WithLogger(GinkgoLogr))
			Expect(p.Topology()).NotTo(BeNil())
		})

	})

	When("allocating", func() {

		DescribeTable("uses all CPUs before reusing any",
			func(preferred uint, cpulists ...string) {
				p := New(preferred, 0, WithSource(fakeSockets(cpulists...)))
				threads := int(p.Topology().ThreadCount())
				Expect(threads).NotTo(BeZero())
				cpus := allocations(p, threads)
				Expect(cpus).To(ConsistOf(func() []uint {
					all := make([]uint, 0, threads)
					for cpu := range uint(threads) {
						all = append(all, cpu)
					}
					return all
				}()))
				for cpu := range uint(threads) {
					Expect(p.Usage(cpu)).To(Equal(uint(1)))
				}
			},
			Entry("single CPU", uint(0), "0"),
			Entry("single socket", uint(0), "0-7"),
			Entry("two sockets, preferring the first", uint(0), "0-3", "4-7"),
			Entry("two sockets, preferring the second", uint(1), "0-3", "4-7"),
			Entry("interleaved sockets", uint(1), "0,2,4,6", "1,3,5,7"),
			Entry("four sockets", uint(2), "0-1", "2-3", "4-5", "6-7"),
		)

		It("prefers unused CPUs on the preferred socket", func() {
			p := New(1, 0, WithSource(fakeSockets("0,2,4,6", "1,3,5,7")))
			Expect(allocations(p, 4)).To(Equal([]uint{1, 3, 5, 7}))
			Expect(allocations(p, 4)).To(Equal([]uint{0, 2, 4, 6}))
		})

		It("spreads threads evenly over the least used CPUs", func() {
			p := New(0, 2, WithSource(fakeSockets("0-3")))
			Expect(p.Placement(Shared)).To(Equal(cpus.Set{1 << 2}))
			Expect(p.Usage(2)).To(Equal(uint(1)))
			Expect(allocations(p, 3)).To(Equal([]uint{0, 1, 3}))
			Expect(allocations(p, 8)).To(Equal([]uint{0, 1, 2, 3, 0, 1, 2, 3}))
		})

		It("never allocates skipped CPUs", func() {
			p := New(0, 0, WithSource(fakeSockets("0-3")))
			p.Skip(1)
			Expect(p.Usage(1)).To(Equal(uint(skipped)))
			Expect(allocations(p, 1000)).NotTo(ContainElement(uint(1)))
		})

		It("ignores skipping CPUs not in the topology", func() {
			p := New(0, 0, WithSource(fakeSockets("0-3")))
			p.Skip(4)
			p.Skip(topology.MaxCPUThreads + 1)
			Expect(p.Usage(4)).To(BeZero())
			Expect(allocations(p, 5)).To(Equal([]uint{0, 1, 2, 3, 0}))
		})

		It("allocates distinct CPUs concurrently", func() {
			goodgos := Goroutines()
			DeferCleanup(func() {
				Eventually(Goroutines).ShouldNot(HaveLeaked(goodgos))
			})

			const threads = 64
			p := New(1, 0, WithSource(fakeSockets("0-31", "32-63")))
			start := make(chan struct{})
			allocated := make(chan uint, threads)
			var wg sync.WaitGroup
			for range threads {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					allocated <- Successful(p.Allocate())
				}()
			}
			close(start)
			wg.Wait()
			close(allocated)
			seen := map[uint]struct{}{}
			for cpu := range allocated {
				Expect(seen).NotTo(HaveKey(cpu))
				seen[cpu] = struct{}{}
			}
			Expect(seen).To(HaveLen(threads))
		})

	})

	When("calculating placements", func() {

		It("places on all CPUs", func() {
			p := New(1, 0, WithSource(fakeSockets("0-3", "4-9")))
			set := Successful(p.Placement(All))
			Expect(set.List()).To(Equal(cpus.List{{0, 9}}))
			Expect(set.Count()).To(Equal(p.Topology().ThreadCount()))
		})

		It("places on all CPUs of the preferred socket", func() {
			p := New(1, 0, WithSource(fakeSockets("0,2,4,6", "1,3,5,7")))
			set := Successful(p.Placement(Socket))
			Expect(set.String()).To(Equal("1,3,5,7"))
			Expect(set.List()).To(Equal(p.Topology().SocketCPUs(1)))
			for cpu := range uint(8) {
				Expect(p.Usage(cpu)).To(BeZero())
			}
		})

		It("places on a single allocated CPU", func() {
			p := New(1, 0, WithSource(fakeSockets("0-3", "4-7")))
			Expect(p.Placement(BestEffort)).To(Equal(cpus.Set{1 << 4}))
			Expect(p.Usage(4)).To(Equal(uint(1)))
		})

		It("places shared threads on the same CPU", func() {
			p := New(0, 3, WithSource(fakeSockets("0-3")))
			for range 3 {
				Expect(p.Placement(Shared)).To(Equal(cpus.Set{1 << 3}))
			}
			Expect(p.Usage(3)).To(Equal(uint(3)))
		})

		It("rejects invalid policies", func() {
			p := New(0, 0, WithSource(fakeSockets("0-3")))
			Expect(p.Placement(Policy(42))).Error().To(MatchError("invalid placement policy 42"))
		})

		DescribeTable("reports missing CPUs",
			func(policy Policy) {
				p := New(0, 0, WithSource(topology.NewSysfsFS(fstest.MapFS{})))
				Expect(p.Placement(policy)).Error().To(MatchError(ErrNoCPUs))
				Expect(p.Usage(0)).To(BeZero())
			},
			Entry(nil, All),
			Entry(nil, Socket),
			Entry(nil, Shared),
			Entry(nil, BestEffort),
		)

		It("reports missing CPUs when allocating", func() {
			p := New(0, 0, WithSource(topology.NewSysfsFS(fstest.MapFS{})))
			Expect(p.Allocate()).Error().To(MatchError(ErrNoCPUs))
		})

	})

	When("binding", func() {

		It("names the thread and pins it", func() {
			var lines []string
			log := funcr.New(func(_, args string) { lines = append(lines, args) }, funcr.Options{})
			p := New(0, 0, WithSource(fakeSockets("0-3", "4-7")), WithLogger(log))
			var mu sync.Mutex
			var pinned []cpus.Set
			p.pin = func(set cpus.Set) error {
				mu.Lock()
				defer mu.Unlock()
				pinned = append(pinned, set)
				return nil
			}

			name, err := bindInThrowawayThread(p, "a_rather_long_thread_name", BestEffort)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("a_rather_long_t"))
			Expect(pinned).To(Equal([]cpus.Set{{1 << 0}}))
			Expect(lines).To(ContainElement(And(
				ContainSubstring(`"msg"="binding thread"`),
				ContainSubstring(`"thread"="a_rather_long_thread_name"`),
				ContainSubstring(`"cpu"=0`))))

			name, err = bindInThrowawayThread(p, "main", Socket)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("main"))
			Expect(pinned).To(HaveLen(2))
			Expect(pinned[1].String()).To(Equal("0-3"))
		})

		It("leaves the thread unpinned without CPUs", func() {
			p := New(0, 0, WithSource(topology.NewSysfsFS(fstest.MapFS{})))
			p.pin = func(cpus.Set) error {
				defer GinkgoRecover()
				Fail("must not pin")
				return nil
			}
			name, err := bindInThrowawayThread(p, "unpinned", All)
			Expect(errors.Is(err, ErrNoCPUs)).To(BeTrue())
			Expect(name).To(Equal("unpinned"))
		})

		It("reports pinning failures", func() {
			p := New(0, 0, WithSource(fakeSockets("0-3")))
			p.pin = func(cpus.Set) error { return os.ErrPermission }
			_, err := bindInThrowawayThread(p, "failing", Shared)
			Expect(err).To(MatchError(os.ErrPermission))
			Expect(err).To(MatchError(ContainSubstring(`cannot bind thread "failing" to cpus 0`)))
		})

		It("pins to a real CPU", func() {
			allowed := Successful(cpus.Affinity(os.Getpid())).List()
			if len(allowed) != 1 || allowed[0][0] != 0 {
				Skip(fmt.Sprintf("needs CPUs 0-n to be allowed, got %s", allowed))
			}
			p := New(0, 0, WithSource(fakeSockets(allowed.String())), WithLogger(GinkgoLogr))
			affinity := make(chan cpus.List)
			go func() {
				defer GinkgoRecover()
				defer close(affinity)
				Expect(p.Bind("pinned", BestEffort)).To(Succeed())
				affinity <- Successful(cpus.Affinity(0)).List()
			}()
			Expect(<-affinity).To(Equal(cpus.List{{0, 0}}))
		})

	})

})
