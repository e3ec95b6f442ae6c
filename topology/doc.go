/*
Package topology discovers which logical CPUs belong to which socket (NUMA
node), reading the information from a [Source] such as the Linux sysfs NUMA
node hierarchy.
*/
package topology
