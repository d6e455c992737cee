package leads

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"91234567":       "91234567",
		"9123 4567":      "91234567",
		"+65 9123-4567":  "91234567",
		"+6561234567":    "61234567",
		" 8123-4567 ":    "81234567",
		"+1 555 0100":    "+15550100",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestValidateSubmit(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{name: "valid", mutate: func(*SubmitRequest) {}},
		{name: "landline prefix allowed", mutate: func(r *SubmitRequest) { r.Phone = "61234567" }},
		{name: "missing name", mutate: func(r *SubmitRequest) { r.Name = "" }, field: "Name"},
		{name: "name too long", mutate: func(r *SubmitRequest) { r.Name = strings.Repeat("a", 121) }, field: "Name"},
		{name: "short phone", mutate: func(r *SubmitRequest) { r.Phone = "123" }, field: "Phone"},
		{name: "wrong leading digit", mutate: func(r *SubmitRequest) { r.Phone = "71234567" }, field: "Phone"},
		{name: "reason too short", mutate: func(r *SubmitRequest) { r.Reason = "ow" }, field: "Reason"},
		{name: "reason too long", mutate: func(r *SubmitRequest) { r.Reason = strings.Repeat("x", 501) }, field: "Reason"},
		{name: "missing preferred time", mutate: func(r *SubmitRequest) { r.PreferredTime = "" }, field: "PreferredTime"},
		{name: "unknown contact preference", mutate: func(r *SubmitRequest) { r.ContactPreference = "email" }, field: "ContactPreference"},
		{name: "key too long", mutate: func(r *SubmitRequest) { r.IdempotencyKey = strings.Repeat("k", 256) }, field: "IdempotencyKey"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			req.normalize()

			err := validateSubmit(req)
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tc.field, verr.Field)
				assert.NotEmpty(t, verr.Message)
			}
		})
	}
}

func TestListFilterLimit(t *testing.T) {
	assert.Equal(t, 50, ListFilter{}.limit())
	assert.Equal(t, 10, ListFilter{Limit: 3}.limit())
	assert.Equal(t, 200, ListFilter{Limit: 1000}.limit())
	assert.Equal(t, 75, ListFilter{Limit: 75}.limit())
}
