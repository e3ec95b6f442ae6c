/*
Package placer pins threads to CPUs on multi-socket (NUMA) systems, spreading
them over the available CPUs while favoring a preferred socket.

A [Placer] probes the CPU topology once when created using [New] and then
hands out CPUs to the threads asking for them. Threads call [Placer.Bind]
with a [Policy] telling how tightly they want to be pinned:

  - [All] allows all CPUs,
  - [Socket] allows all CPUs of the preferred socket,
  - [Shared] pins to a single designated CPU shared by multiple threads,
  - [BestEffort] pins to a single CPU of its own, as long as there are unused
    CPUs left, preferably on the preferred socket.

Binding is best-effort: on systems without NUMA topology information there is
nothing to pin to and Bind reports [ErrNoCPUs], leaving the thread unpinned.
*/
package placer
