package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailhoard/mailhoard/config"
)

func TestBuildQuery_Empty(t *testing.T) {
	assert.Equal(t, "ALL", BuildQuery(&config.Filter{}))
	assert.Equal(t, "ALL", BuildQuery(nil))
}

func TestBuildQuery_SingleTerm(t *testing.T) {
	f := &config.Filter{FromAddresses: []string{"alice@example.com"}}
	assert.Equal(t, `(FROM "alice@example.com")`, BuildQuery(f))
}

func TestBuildQuery_TwoTerms(t *testing.T) {
	f := &config.Filter{FromAddresses: []string{"a@x.com", "b@x.com"}}
	assert.Equal(t, `(OR FROM "a@x.com" FROM "b@x.com")`, BuildQuery(f))
}

func TestBuildQuery_LeftFold(t *testing.T) {
	f := &config.Filter{FromAddresses: []string{"a@x.com", "b@x.com", "c@x.com"}}
	assert.Equal(t,
		`(OR (OR FROM "a@x.com" FROM "b@x.com") FROM "c@x.com")`,
		BuildQuery(f))
}

func TestBuildQuery_AddressExpandsToThreeFields(t *testing.T) {
	f := &config.Filter{Addresses: []string{"me@x.com"}}
	assert.Equal(t,
		`(OR (OR TO "me@x.com" FROM "me@x.com") CC "me@x.com")`,
		BuildQuery(f))
}

func TestBuildQuery_DomainThenFrom(t *testing.T) {
	f := &config.Filter{
		Domains:       []string{"corp.example"},
		FromAddresses: []string{"boss@other.com"},
	}
	assert.Equal(t,
		`(OR (OR (OR TO "corp.example" FROM "corp.example") CC "corp.example") FROM "boss@other.com")`,
		BuildQuery(f))
}

func TestBuildCriteria_Empty(t *testing.T) {
	c := BuildCriteria(&config.Filter{})
	assert.Empty(t, c.Or)
	assert.Empty(t, c.Header)
}

func TestBuildCriteria_MirrorsFold(t *testing.T) {
	f := &config.Filter{FromAddresses: []string{"a@x.com", "b@x.com", "c@x.com"}}
	c := BuildCriteria(f)

	require.Len(t, c.Or, 1)
	left, right := c.Or[0][0], c.Or[0][1]
	assert.Equal(t, []string{"c@x.com"}, right.Header["From"])

	require.Len(t, left.Or, 1)
	assert.Equal(t, []string{"a@x.com"}, left.Or[0][0].Header["From"])
	assert.Equal(t, []string{"b@x.com"}, left.Or[0][1].Header["From"])
}
