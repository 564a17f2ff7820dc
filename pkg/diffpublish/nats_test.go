package diffpublish

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeToken string

func (f fakeToken) String() string { return string(f) }

func TestSubjectFollowsDiffKindEntityConvention(t *testing.T) {
	got := subject(fakeToken("Position"), fakeToken("entity(7/1)"))
	assert.Equal(t, "diff.Position.entity(7/1)", got)
	assert.Equal(t, fmt.Sprintf("diff.%s.%s", "Position", "entity(7/1)"), got)
}
