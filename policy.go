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

import "fmt"

// Policy specifies how a thread gets pinned to CPUs.
type Policy int

// Placement policies.
const (
	All        Policy = iota // all CPUs
	Socket                   // all CPUs of the preferred socket
	BestEffort               // a single CPU, preferably unused and on the preferred socket
	Shared                   // the single shared CPU
)

var policyNames = map[Policy]string{
	All:        "all",
	Socket:     "socket",
	BestEffort: "best-effort",
	Shared:     "shared",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// MarshalText returns the textual policy name.
func (p Policy) MarshalText() ([]byte, error) {
	name, ok := policyNames[p]
	if !ok {
		return nil, fmt.Errorf("invalid placement policy %d", int(p))
	}
	return []byte(name), nil
}

// UnmarshalText sets the policy from its textual name, such as “best-effort”.
func (p *Policy) UnmarshalText(text []byte) error {
	for policy, name := range policyNames {
		if name == string(text) {
			*p = policy
			return nil
		}
	}
	return fmt.Errorf("unknown placement policy %q", string(text))
}
