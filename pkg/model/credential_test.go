package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"linechat/pkg/model"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	type tcase struct {
		name    string
		wantErr error
	}

	tcases := map[string]tcase{
		"simple":        {name: "bob"},
		"mixed":         {name: "Bob_42-x"},
		"max_length":    {name: strings.Repeat("a", model.MaxUsernameLength)},
		"empty":         {name: "", wantErr: model.ErrUsernameEmpty},
		"too_long":      {name: strings.Repeat("a", model.MaxUsernameLength+1), wantErr: model.ErrUsernameTooLong},
		"space":         {name: "bob smith", wantErr: model.ErrUsernameInvalidChars},
		"bracket":       {name: "bob]", wantErr: model.ErrUsernameInvalidChars},
		"non_ascii":     {name: "böb", wantErr: model.ErrUsernameInvalidChars},
		"control_chars": {name: "bob\n", wantErr: model.ErrUsernameInvalidChars},
	}

	for name, tc := range tcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := model.ValidateUsername(tc.name)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
