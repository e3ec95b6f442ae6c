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
	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("placement policies", func() {

	DescribeTable("textual representations",
		func(policy Policy, name string) {
			Expect(policy.String()).To(Equal(name))
			Expect(policy.MarshalText()).To(Equal([]byte(name)))
			var p Policy
			Expect(p.UnmarshalText([]byte(name))).To(Succeed())
			Expect(p).To(Equal(policy))
		},
		Entry(nil, All, "all"),
		Entry(nil, Socket, "socket"),
		Entry(nil, BestEffort, "best-effort"),
		Entry(nil, Shared, "shared"),
	)

	It("rejects unknown policies", func() {
		Expect(Policy(42).String()).To(Equal("Policy(42)"))
		Expect(Policy(42).MarshalText()).Error().To(HaveOccurred())
		var p Policy
		Expect(p.UnmarshalText([]byte("anywhere"))).To(MatchError(ContainSubstring("unknown placement policy")))
	})

})
