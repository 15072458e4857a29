package browser

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

func TestParseSessionCookies(t *testing.T) {
	blob := []byte(`[{"name":"sid","value":"abc","domain":".example.com","path":"/","secure":true,"http_only":true}]`)

	cookies, err := ParseSessionCookies(blob)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, ".example.com", cookies[0].Domain)
	assert.True(t, cookies[0].Secure)
}

func TestParseSessionCookies_Invalid(t *testing.T) {
	_, err := ParseSessionCookies([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidSession)

	// An empty cookie list is as useless as garbage.
	_, err = ParseSessionCookies([]byte("[]"))
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestActionSpec_Validate(t *testing.T) {
	content := &listing.Content{Title: "lamp", Price: decimal.NewFromInt(10)}

	tests := []struct {
		name    string
		spec    ActionSpec
		wantErr bool
	}{
		{"publish with content", ActionSpec{Kind: job.KindPublish, Content: content}, false},
		{"publish without content", ActionSpec{Kind: job.KindPublish}, true},
		{"push with remote id", ActionSpec{Kind: job.KindSyncPush, RemoteID: "rm-1", Content: content}, false},
		{"push without remote id", ActionSpec{Kind: job.KindSyncPush, Content: content}, true},
		{"bump with remote id", ActionSpec{Kind: job.KindBump, RemoteID: "rm-1"}, false},
		{"bump without remote id", ActionSpec{Kind: job.KindBump}, true},
		{"pull with remote id", ActionSpec{Kind: job.KindSyncPull, RemoteID: "rm-1"}, false},
		{"follow with target", ActionSpec{Kind: job.KindFollow, Payload: map[string]string{"target_user": "bob"}}, false},
		{"follow without target", ActionSpec{Kind: job.KindFollow, Payload: map[string]string{}}, true},
		{"message complete", ActionSpec{Kind: job.KindMessage, Payload: map[string]string{"recipient": "bob", "text": "hi"}}, false},
		{"message missing text", ActionSpec{Kind: job.KindMessage, Payload: map[string]string{"recipient": "bob"}}, true},
		{"unknown kind", ActionSpec{Kind: job.Kind("TELEPORT")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpec)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMarkers_Clean(t *testing.T) {
	assert.True(t, Markers{}.Clean())
	assert.False(t, Markers{Captcha: true}.Clean())
	assert.False(t, Markers{RateLimitBanner: true}.Clean())
	assert.False(t, Markers{AccountDisabled: true}.Clean())
}

func TestNewChromedpPerformer_RequiresBaseURL(t *testing.T) {
	_, err := NewChromedpPerformer(&ChromedpConfig{})
	assert.Error(t, err)
}

func TestChromedpPerformer_ActionURL(t *testing.T) {
	p := &ChromedpPerformer{config: &ChromedpConfig{BaseURL: "https://market.test"}}

	assert.Equal(t, "https://market.test/sell/new",
		p.actionURL(ActionSpec{Kind: job.KindPublish}))
	assert.Equal(t, "https://market.test/listings/rm-1",
		p.actionURL(ActionSpec{Kind: job.KindBump, RemoteID: "rm-1"}))
	assert.Equal(t, "https://market.test/listings/rm-1/edit",
		p.actionURL(ActionSpec{Kind: job.KindSyncPull, RemoteID: "rm-1"}))
	assert.Equal(t, "https://market.test/users/bob",
		p.actionURL(ActionSpec{Kind: job.KindFollow, Payload: map[string]string{"target_user": "bob"}}))
	assert.Equal(t, "https://market.test/messages/new?to=bob",
		p.actionURL(ActionSpec{Kind: job.KindMessage, Payload: map[string]string{"recipient": "bob"}}))
}

func TestSessionCookie_ExpiresRoundTrip(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	blob := []byte(`[{"name":"sid","value":"abc","domain":".example.com","path":"/","expires":"` +
		expires.Format(time.RFC3339) + `"}]`)

	cookies, err := ParseSessionCookies(blob)
	require.NoError(t, err)
	require.NotNil(t, cookies[0].Expires)
	assert.Equal(t, expires.Unix(), cookies[0].Expires.Unix())
}

type fakeImageSource struct {
	images map[string][]byte
}

func (f *fakeImageSource) Fetch(_ context.Context, key string) ([]byte, error) {
	data, ok := f.images[key]
	if !ok {
		return nil, errors.New("no such image")
	}
	return data, nil
}

func TestChromedpPerformer_StagePhotos(t *testing.T) {
	source := &fakeImageSource{images: map[string][]byte{
		"listings/abc/front.jpg": []byte("front-bytes"),
		"listings/abc/back.jpg":  []byte("back-bytes"),
	}}
	p, err := NewChromedpPerformer(&ChromedpConfig{BaseURL: "https://market.test"}, WithImageSource(source))
	require.NoError(t, err)
	defer p.Close()

	dir, paths, err := p.stagePhotos(context.Background(), []string{
		"listings/abc/front.jpg",
		"listings/abc/back.jpg",
	})
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	require.Len(t, paths, 2)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("front-bytes"), data)
}

func TestChromedpPerformer_StagePhotos_MissingKey(t *testing.T) {
	p, err := NewChromedpPerformer(&ChromedpConfig{BaseURL: "https://market.test"},
		WithImageSource(&fakeImageSource{images: map[string][]byte{}}))
	require.NoError(t, err)
	defer p.Close()

	_, _, err = p.stagePhotos(context.Background(), []string{"listings/abc/front.jpg"})
	assert.Error(t, err)
}
