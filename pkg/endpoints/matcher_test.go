package endpoints

import (
	"errors"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/orders", "/orders", true},
		{"/orders", "/orders/1", false},
		{"/orders/{id}", "/orders/42", true},
		{"/orders/{id}", "/orders/", false},
		{"/orders/{id}", "/orders", false},
		{"/orders/{id}", "/orders/42/items", false},
		{"/orders/{id}/items/{item}", "/orders/1/items/2", true},
		{"/orders/{id}/items/{item}", "/orders/1/lines/2", false},
		{"/admin/**", "/admin", true},
		{"/admin/**", "/admin/", true},
		{"/admin/**", "/admin/users/7/roles", true},
		{"/admin/**", "/administrator", false},
		{"/admin/**", "/other/admin", false},
		{"/**", "/", true},
		{"/**", "/anything/at/all", true},
		{"/", "/", true},
		{"/", "/a", false},
		{"/orders/{id}/**", "/orders/9", true},
		{"/orders/{id}/**", "/orders/9/a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.path))
		})
	}
}

func TestMatchPattern_WildcardPrefixProperty(t *testing.T) {
	prefixes := []string{"/admin", "/a/b", "/orders/{id}"}
	suffixes := []string{"", "/x", "/x/y", "/x/y/z/w"}

	for _, prefix := range prefixes {
		concrete := prefix
		if prefix == "/orders/{id}" {
			concrete = "/orders/17"
		}
		for _, suffix := range suffixes {
			assert.True(t, MatchPattern(prefix+"/**", concrete+suffix), "%s/** should match %s", prefix, concrete+suffix)
		}
		assert.False(t, MatchPattern(prefix+"/**", "/zzz"+concrete), "%s/** must not match a path outside the prefix", prefix)
	}
}

func TestValidatePattern(t *testing.T) {
	valid := []string{"/", "/orders", "/orders/{id}", "/orders/{id}/**", "/**", "/v1/users/{user_id}/roles"}
	for _, p := range valid {
		assert.NoError(t, ValidatePattern(p), p)
	}

	invalid := []string{"", "orders", "/orders//items", "/orders/", "/**/items", "/orders/{}", "/orders/{id", "/orders/*", "/a/{b{c}}"}
	for _, p := range invalid {
		err := ValidatePattern(p)
		assert.Error(t, err, p)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput), p)
	}
}

func TestStaticPrefix(t *testing.T) {
	assert.Equal(t, "/orders", StaticPrefix("/orders/{id}"))
	assert.Equal(t, "/orders/items", StaticPrefix("/orders/items"))
	assert.Equal(t, "/admin", StaticPrefix("/admin/**"))
	assert.Equal(t, "/", StaticPrefix("/**"))
	assert.Equal(t, "/", StaticPrefix("/{tenant}/orders"))
	assert.Equal(t, "/", StaticPrefix("/"))
}

func TestFirstMatch_Specificity(t *testing.T) {
	candidates := []Endpoint{
		{ID: "wild", PathPattern: "/orders/**"},
		{ID: "var", PathPattern: "/orders/{id}"},
		{ID: "literal", PathPattern: "/orders/recent"},
		{ID: "root", PathPattern: "/**"},
	}

	tests := []struct {
		path string
		want string
	}{
		{"/orders/recent", "literal"},
		{"/orders/42", "var"},
		{"/orders/42/items", "wild"},
		{"/customers", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := FirstMatch(append([]Endpoint(nil), candidates...), tt.path)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.ID)
			}
		})
	}

	assert.Nil(t, FirstMatch([]Endpoint{{PathPattern: "/orders/{id}"}}, "/customers/1"))
	assert.Nil(t, FirstMatch(nil, "/"))
}

func TestMoreSpecific_TieBreaks(t *testing.T) {
	// same shape, longer literal wins
	assert.True(t, moreSpecific("/orders/{id}/archive", "/orders/{id}/all"))
	// equal length falls back to text
	assert.True(t, moreSpecific("/a/{x}", "/b/{x}"))
	assert.True(t, moreSpecific("/a/b/{x}", "/a/{x}/{y}"))
}

func TestValidateMethod(t *testing.T) {
	m, err := ValidateMethod(" get ")
	assert.NoError(t, err)
	assert.Equal(t, "GET", m)

	_, err = ValidateMethod("FETCH")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
