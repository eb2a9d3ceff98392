package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/security"
)

type memRecords struct {
	mu        sync.Mutex
	rows      map[string]models.Media
	createErr error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]models.Media)}
}

func (m *memRecords) Create(_ context.Context, media models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.rows[media.ID] = media
	return nil
}

func (m *memRecords) GetByID(_ context.Context, id string) (models.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	media, ok := m.rows[id]
	if !ok {
		return models.Media{}, repository.ErrMediaNotFound
	}
	return media, nil
}

func (m *memRecords) ListByOwners(_ context.Context, ownerIDs []string, mediaType *models.ResourceType, limit, offset int) ([]models.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = struct{}{}
	}
	var out []models.Media
	for _, media := range m.rows {
		if _, ok := owners[media.OwnerUserID]; !ok {
			continue
		}
		if mediaType != nil && media.MediaType != *mediaType {
			continue
		}
		out = append(out, media)
	}
	return out, nil
}

func (m *memRecords) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrMediaNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memRecords) Stats(_ context.Context) (repository.MediaStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats repository.MediaStats
	for _, media := range m.rows {
		stats.TotalFiles++
		stats.TotalBytes += media.SizeBytes
		switch media.MediaType {
		case models.ResourceImage:
			stats.Images++
		case models.ResourceVideo:
			stats.Videos++
		case models.ResourceText:
			stats.Texts++
		}
	}
	return stats, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) key(bucket, key string) string { return bucket + "/" + key }

func (m *memObjects) Put(_ context.Context, bucket, key string, data []byte, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(bucket, key)] = data
	return int64(len(data)), nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	data, ok := m.objects[m.key(bucket, key)]
	if !ok {
		return nil, repository.ErrMediaNotFound
	}
	return data, nil
}

func (m *memObjects) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.key(bucket, key))
	return nil
}

func (m *memObjects) MediaBucket() string { return "test-media" }
func (m *memObjects) ThumbBucket() string { return "test-thumbs" }

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *memObjects) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

type memManaged struct {
	relations map[string][]string
}

func (m *memManaged) CanManage(_ context.Context, adminID, targetUserID string) (bool, error) {
	for _, id := range m.relations[adminID] {
		if id == targetUserID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memManaged) ListManagedIDs(_ context.Context, adminID string) ([]string, error) {
	return m.relations[adminID], nil
}

const testSecret = "test-signature-secret"

func newMediaFixture() (*MediaService, *memRecords, *memObjects, *memManaged) {
	records := newMemRecords()
	objects := newMemObjects()
	managed := &memManaged{relations: map[string][]string{}}
	svc := NewMediaService(records, objects, managed, testSecret, zerolog.Nop())
	return svc, records, objects, managed
}

func generated(owner string) jobs.GeneratedMedia {
	return jobs.GeneratedMedia{
		OwnerUserID:   owner,
		SourceAddress: "198.51.100.4",
		MediaType:     models.ResourceVideo,
		MimeType:      "video/mp4",
		Payload:       []byte("video-bytes"),
		Prompt:        "a fox at dawn",
		Model:         "veo-3.1-fast-generate-preview",
	}
}

func TestCreate_RecordsAttributionAndSignature(t *testing.T) {
	svc, records, objects, _ := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	assert.Equal(t, "alice", media.OwnerUserID)
	assert.Equal(t, "198.51.100.4", media.SourceAddress)
	assert.Equal(t, int64(len("video-bytes")), media.SizeBytes)
	assert.True(t, strings.HasSuffix(media.ObjectKey, media.ID+".mp4"))
	assert.Equal(t, security.SignResource(testSecret, media.ID, media.ObjectKey), media.Signature)

	stored, err := records.GetByID(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ObjectKey, stored.ObjectKey)

	payload, err := objects.Get(ctx, media.Bucket, media.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("video-bytes"), payload)
}

func TestCreate_RejectsMissingAttribution(t *testing.T) {
	svc, _, _, _ := newMediaFixture()
	ctx := context.Background()

	in := generated("")
	_, err := svc.Create(ctx, in)
	require.Error(t, err)

	in = generated("alice")
	in.SourceAddress = ""
	_, err = svc.Create(ctx, in)
	require.Error(t, err)

	in = generated("alice")
	in.Payload = nil
	_, err = svc.Create(ctx, in)
	require.Error(t, err)
}

func TestCreate_CleansUpOrphanOnInsertFailure(t *testing.T) {
	svc, records, objects, _ := newMediaFixture()
	records.createErr = assert.AnError

	_, err := svc.Create(context.Background(), generated("alice"))
	require.Error(t, err)
	assert.Equal(t, 0, objects.count(), "failed insert must not leave stored bytes")
}

func TestGet_AuthorizationDoesNotLeakExistence(t *testing.T) {
	svc, _, _, managed := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	owner := models.User{ID: "alice", Role: models.UserRoleUser}
	stranger := models.User{ID: "bob", Role: models.UserRoleUser}
	manager := models.User{ID: "carol", Role: models.UserRoleAdmin}
	otherAdmin := models.User{ID: "dan", Role: models.UserRoleAdmin}
	managed.relations["carol"] = []string{"alice"}

	got, payload, err := svc.Get(ctx, media.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, media.ID, got.ID)
	assert.Equal(t, []byte("video-bytes"), payload)

	_, _, err = svc.Get(ctx, media.ID, stranger)
	assert.ErrorIs(t, err, ErrMediaNotFound)

	_, _, err = svc.Get(ctx, media.ID, manager)
	assert.NoError(t, err)

	_, _, err = svc.Get(ctx, media.ID, otherAdmin)
	assert.ErrorIs(t, err, ErrMediaNotFound)

	// Missing and forbidden are indistinguishable.
	_, _, err = svc.Get(ctx, "no-such-id", owner)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestGet_RefusesTamperedRecord(t *testing.T) {
	svc, records, _, _ := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	tampered := media
	tampered.ObjectKey = "2026/01/01/swapped.mp4"
	records.rows[media.ID] = tampered

	owner := models.User{ID: "alice", Role: models.UserRoleUser}
	_, _, err = svc.Get(ctx, media.ID, owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestGetInfo_ReturnsMetadataWithoutPayloadFetch(t *testing.T) {
	svc, _, objects, _ := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	owner := models.User{ID: "alice", Role: models.UserRoleUser}
	got, err := svc.GetInfo(ctx, media.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, media.ID, got.ID)
	assert.Equal(t, media.SizeBytes, got.SizeBytes)
	assert.Equal(t, 0, objects.fetches(), "metadata lookup must not download the payload")

	stranger := models.User{ID: "bob", Role: models.UserRoleUser}
	_, err = svc.GetInfo(ctx, media.ID, stranger)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestList_ScopesToRequesterAndManagedUsers(t *testing.T) {
	svc, _, _, managed := newMediaFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, generated("bob"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, generated("carol"))
	require.NoError(t, err)

	managed.relations["admin"] = []string{"alice", "bob"}

	admin := models.User{ID: "admin", Role: models.UserRoleAdmin}
	list, err := svc.List(ctx, admin, nil, 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	user := models.User{ID: "alice", Role: models.UserRoleUser}
	list, err = svc.List(ctx, user, nil, 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	imageType := models.ResourceImage
	list, err = svc.List(ctx, user, &imageType, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDelete_RemovesPayloadThumbnailAndRow(t *testing.T) {
	svc, records, objects, _ := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	// Attach a thumbnail the way a post-processing step would.
	thumbKey := media.ObjectKey + ".thumb.jpg"
	_, err = objects.Put(ctx, objects.ThumbBucket(), thumbKey, []byte("thumb"), "image/jpeg")
	require.NoError(t, err)
	withThumb := media
	withThumb.ThumbnailKey = &thumbKey
	records.rows[media.ID] = withThumb

	owner := models.User{ID: "alice", Role: models.UserRoleUser}
	require.NoError(t, svc.Delete(ctx, media.ID, owner))

	assert.Equal(t, 0, objects.count())
	_, err = records.GetByID(ctx, media.ID)
	assert.ErrorIs(t, err, repository.ErrMediaNotFound)
}

func TestDelete_ForbiddenForStrangers(t *testing.T) {
	svc, records, _, _ := newMediaFixture()
	ctx := context.Background()

	media, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	stranger := models.User{ID: "bob", Role: models.UserRoleUser}
	err = svc.Delete(ctx, media.ID, stranger)
	assert.ErrorIs(t, err, ErrMediaNotFound)

	_, err = records.GetByID(ctx, media.ID)
	assert.NoError(t, err, "record must survive an unauthorized delete")
}

func TestStats(t *testing.T) {
	svc, _, _, _ := newMediaFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, generated("alice"))
	require.NoError(t, err)

	img := generated("alice")
	img.MediaType = models.ResourceImage
	img.MimeType = "image/png"
	_, err = svc.Create(ctx, img)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.Images)
	assert.Equal(t, int64(1), stats.Videos)
}
