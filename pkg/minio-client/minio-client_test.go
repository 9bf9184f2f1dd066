package minioclient

import (
	"encoding/json"
	"testing"
)

func TestPublicReadPolicy(t *testing.T) {
	var policy struct {
		Statement []struct {
			Effect   string
			Action   []string
			Resource []string
		}
	}

	if err := json.Unmarshal([]byte(PublicReadPolicy("chat-images")), &policy); err != nil {
		t.Fatalf("PublicReadPolicy() is not valid json: %v", err)
	}
	if len(policy.Statement) != 1 {
		t.Fatalf("PublicReadPolicy() statements = %d, want 1", len(policy.Statement))
	}
	st := policy.Statement[0]
	if st.Effect != "Allow" || st.Action[0] != "s3:GetObject" || st.Resource[0] != "arn:aws:s3:::chat-images/*" {
		t.Errorf("PublicReadPolicy() = %#v", st)
	}
}
