/*
Package cpus supports working with CPU lists and sets, and with pinning the
calling thread (or any other task) to a specific set of CPUs.

Logically, [List] and [Set] are equivalent, as they both represent sets of
logical CPUs, identified by their 0-based CPU number. They differ in their
internal representations, mirroring the forms used by the Linux sysfs pseudo
files and the affinity syscalls respectively.

  - [List] internally stores CPU numbers as ranges, such as 1-4, 8-15.
  - [Set] internally stores CPU numbers as bits, such as (hex) ff1e.

Textual CPU lists come in two flavors of strictness. [NewList] rejects any
malformed text, which is what configuration input wants. [ParseList] instead
follows the forgiving rules used when reading sysfs topology files: it returns
the CPU numbers parsed up to the first anomaly, silently truncated to a given
capacity, and reports the anomaly's offset in a [*SyntaxError].

[List.Set] converts a List into its corresponding Set. In the opposite
direction, [Set.List] converts a Set into its equivalent List.
*/
package cpus
