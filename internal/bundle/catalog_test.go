package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	b, err := DefaultCatalog().Bundle(DefaultProduct)
	require.NoError(t, err)
	assert.Equal(t, "plink_1T4JrGB2szZEmbl7K8W84829", b.PaymentLink)
	require.Len(t, b.Resources, 11)
	assert.Equal(t, "2665379", b.Resources[0].ID)
	assert.Equal(t, "2550313", b.Resources[10].ID)
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"pack-other", "pack-test"}, c.Products())

	b, err := c.Bundle("pack-test")
	require.NoError(t, err)
	assert.Equal(t, "plink_test", b.PaymentLink)
	assert.Equal(t, []Resource{{ID: "100", Name: "Course A"}, {ID: "200", Name: "Course B"}}, b.Resources)

	_, err = c.Bundle("missing")
	assert.ErrorIs(t, err, errUnknownProduct)

	_, err = LoadCatalog("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}

func TestParseCatalogValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no bundles",
			yaml:    "bundles: {}\n",
			wantErr: "defines no bundles",
		},
		{
			name:    "empty resource list",
			yaml:    "bundles:\n  p:\n    payment_link: plink_x\n    resources: []\n",
			wantErr: "bundle has no resources",
		},
		{
			name:    "duplicate resource ids",
			yaml:    "bundles:\n  p:\n    payment_link: plink_x\n    resources:\n      - id: \"1\"\n      - id: \"2\"\n      - id: \"1\"\n",
			wantErr: "duplicate resource ids: 1",
		},
		{
			name:    "missing payment link",
			yaml:    "bundles:\n  p:\n    resources:\n      - id: \"1\"\n",
			wantErr: "no payment link",
		},
		{
			name:    "blank resource id",
			yaml:    "bundles:\n  p:\n    payment_link: plink_x\n    resources:\n      - id: \" \"\n",
			wantErr: "resource id is required",
		},
		{
			name:    "malformed yaml",
			yaml:    "bundles: [",
			wantErr: "parse bundle catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	b, err := Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultProduct, b.Product)

	b, err = Resolve("testdata/catalog.yaml", "pack-other")
	require.NoError(t, err)
	assert.Equal(t, "plink_other", b.PaymentLink)

	_, err = Resolve("", "unknown")
	assert.Error(t, err)
}
