package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	tests := map[string]struct {
		dir       string
		expErr    bool
		expStdout string
		expStderr []string
	}{
		"A valid catalog directory should succeed.": {
			dir:       "../../internal/slo/testdata/catalog/valid",
			expStdout: "✓ All catalog files are valid (2 file(s))\n",
		},
		"An invalid catalog directory should report errors grouped by file.": {
			dir:    "../../internal/slo/testdata/catalog/invalid",
			expErr: true,
			expStderr: []string{
				"✗ Validation failed",
				"latency-no-threshold.yaml",
				"missing-target.yaml",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := Run(context.Background(), []string{"slo-cli", "validate", "--dir", test.dir}, &stdout, &stderr)

			if test.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if test.expStdout != "" {
				assert.Equal(t, test.expStdout, stdout.String())
			}
			for _, s := range test.expStderr {
				assert.Contains(t, stderr.String(), s)
			}
		})
	}
}

func TestValidateCommandRequiresDir(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), []string{"slo-cli", "validate"}, &stdout, &stderr)
	assert.Error(t, err)
}
