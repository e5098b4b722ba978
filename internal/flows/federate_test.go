package flows

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		signIn bool
		flow   Flow
		target string
	}{
		{
			name:  "nothing known, no session",
			state: State{},
			flow:  FlowNewUser,
		},
		{
			name:   "subject owned, no session",
			state:  State{SubjectOwnerID: "u1"},
			signIn: true,
			target: "u1",
		},
		{
			name:   "subject owned by the session user",
			state:  State{SubjectOwnerID: "u1", SessionUserID: "u1"},
			signIn: true,
			target: "u1",
		},
		{
			name:   "subject owned by someone else",
			state:  State{SubjectOwnerID: "u1", SessionUserID: "u2"},
			flow:   FlowSubjectCollision,
			target: "u1",
		},
		{
			name:   "email owned, no session",
			state:  State{EmailOwnerID: "u1"},
			flow:   FlowEmailLink,
			target: "u1",
		},
		{
			name:   "session user already federated",
			state:  State{SessionUserID: "u1", SessionUserHasOAuth: true},
			flow:   FlowAutoLink,
			target: "u1",
		},
		{
			name:   "session user owns the callback email",
			state:  State{SessionUserID: "u1", SessionUserOwnsEmail: true},
			flow:   FlowEmailLink,
			target: "u1",
		},
		{
			name:   "email-only session user, unrelated email",
			state:  State{SessionUserID: "u1"},
			flow:   FlowManualPrompt,
			target: "u1",
		},
		{
			// The session user's presence outranks another account owning
			// the email: ambiguity goes to the prompt, not a silent merge.
			name:   "email owned elsewhere while signed in",
			state:  State{EmailOwnerID: "u2", SessionUserID: "u1"},
			flow:   FlowManualPrompt,
			target: "u1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.state)
			if got.SignIn != tc.signIn {
				t.Fatalf("SignIn = %v, want %v", got.SignIn, tc.signIn)
			}
			if !got.SignIn && got.Flow != tc.flow {
				t.Fatalf("Flow = %s, want %s", got.Flow, tc.flow)
			}
			if got.TargetUserID != tc.target {
				t.Fatalf("TargetUserID = %q, want %q", got.TargetUserID, tc.target)
			}
		})
	}
}

func TestFlowString(t *testing.T) {
	for flow, want := range map[Flow]string{
		FlowNewUser:          "new_user",
		FlowEmailLink:        "email_link",
		FlowAutoLink:         "auto_link",
		FlowSubjectCollision: "subject_collision",
		FlowManualPrompt:     "manual_prompt",
		Flow(99):             "unknown",
	} {
		if got := flow.String(); got != want {
			t.Fatalf("Flow(%d).String() = %q, want %q", int(flow), got, want)
		}
	}
}
