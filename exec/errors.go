/*
 *	Copyright 2026 The tracefn Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package exec

import (
	"fmt"

	"github.com/tracefn/tracefn/types/signature"
)

// SignatureConstraintError reports a call whose arguments do not satisfy the
// constraint the Exec was configured with. The call is rejected before any
// tracing happens.
type SignatureConstraintError struct {
	ExecName string
	Arg      int
	Detail   string
}

func (e *SignatureConstraintError) Error() string {
	return fmt.Sprintf("call to %q violates its input constraint at argument %d: %s",
		e.ExecName, e.Arg, e.Detail)
}

// DuplicateKeyError reports an insert of a signature already present in the
// trace cache. It is the race-loser signal of concurrent tracing: the first
// successful insert is authoritative, the loser discards its artifact and
// adopts the winner's. It never escapes to callers.
type DuplicateKeyError struct {
	Signature signature.CallSignature
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("trace cache already holds an entry for signature %s", e.Signature)
}

// IncompatibleSignatureError reports an explicit artifact invoked with
// arguments incompatible with the constraint it was built for.
type IncompatibleSignatureError struct {
	ExecName string
	Arg      int
	Detail   string
}

func (e *IncompatibleSignatureError) Error() string {
	return fmt.Sprintf("artifact of %q called with an incompatible argument %d: %s",
		e.ExecName, e.Arg, e.Detail)
}
