// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// PendingAction is a tool call held for external approval, with a preview
// the approver can show to the user.
type PendingAction struct {
	Tool    string
	Args    map[string]any
	Preview string
}

// Approver decides whether a pending action may run.
type Approver interface {
	Approve(ctx context.Context, action PendingAction) (bool, error)
}

// ToolRejectedError reports that the approver declined a tool call.
// No state changes were made.
type ToolRejectedError struct {
	Tool string
}

// Error implements the error interface.
func (e *ToolRejectedError) Error() string {
	return fmt.Sprintf("tool %s was rejected by the user", e.Tool)
}

// ApproveAll approves every action without prompting.
type ApproveAll struct{}

// Approve implements Approver.
func (ApproveAll) Approve(ctx context.Context, action PendingAction) (bool, error) {
	return true, nil
}

// newPendingAction builds the action with a JSON argument preview.
func newPendingAction(tool string, args map[string]any) PendingAction {
	preview, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		preview = []byte(fmt.Sprintf("%v", args))
	}
	return PendingAction{Tool: tool, Args: args, Preview: string(preview)}
}
