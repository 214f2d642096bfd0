package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presslocal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullProfile(t *testing.T) {
	path := writeConfig(t, `
site_url: https://example.com
username: editor
app_password: secret
store_path: /tmp/presslocal-test.db
seo_plugin: seo
content_types:
  - name: recipe
    rest_base: recipes
    taxonomies: [recipe_category]
taxonomies:
  - name: recipe_category
    rest_base: recipe-categories
    structured_field: recipe_categories
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", cfg.SiteURL)
	assert.Equal(t, 4, cfg.Workers, "workers defaults to 4")
	require.Len(t, cfg.ContentTypes, 1)
	assert.Equal(t, "recipes", cfg.ContentTypes[0].RestBase)

	tax := cfg.TaxonomyByName("recipe_category")
	require.NotNil(t, tax)
	assert.Equal(t, "recipe_categories", tax.StructuredField)
	assert.Nil(t, cfg.TaxonomyByName("nope"))

	ct := cfg.ContentTypeByName("recipe")
	require.NotNil(t, ct)
	assert.Equal(t, []string{"recipe_category"}, ct.Taxonomies)
}

func TestLoad_MissingCredentials(t *testing.T) {
	path := writeConfig(t, `
site_url: https://example.com
content_types:
  - name: post
    rest_base: posts
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_password")
}

func TestValidate_RequiresContentTypes(t *testing.T) {
	cfg := &Config{SiteURL: "https://example.com", Username: "u", AppPassword: "p"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content type")
}

func TestValidate_DefaultsWorkers(t *testing.T) {
	cfg := &Config{
		SiteURL: "https://example.com", Username: "u", AppPassword: "p",
		ContentTypes: []ContentType{{Name: "post", RestBase: "posts"}},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Workers)
}

func TestValidate_RejectsIncompleteTaxonomy(t *testing.T) {
	cfg := &Config{
		SiteURL: "https://example.com", Username: "u", AppPassword: "p",
		ContentTypes: []ContentType{{Name: "post", RestBase: "posts"}},
		Taxonomies:   []Taxonomy{{Name: "category"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rest_base")
}
