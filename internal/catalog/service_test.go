package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/blob"
	catalogdb "machine-catalog-backend/internal/db"
	"machine-catalog-backend/internal/grid"
	"machine-catalog-backend/internal/metrics"
	"machine-catalog-backend/internal/notification"
	"machine-catalog-backend/internal/store"
)

var (
	admin    = &auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	engineer = &auth.Identity{UserID: "eng-1", Role: auth.RoleEngenheiro}
	client   = &auth.Identity{UserID: "client-1", Role: auth.RoleCliente}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Dispatch(ev notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) Events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Event(nil), r.events...)
}

// failingBlobs wraps a memory store whose deletes always fail.
type failingBlobs struct{ *blob.Memory }

func (f failingBlobs) Delete(context.Context, string) error { return errors.New("bucket unavailable") }

type fixture struct {
	svc      *Service
	store    store.Store
	blobs    *blob.Memory
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, blobs blob.Store) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, catalogdb.Migrate(db))

	mem := blob.NewMemory("/images")
	if blobs == nil {
		blobs = mem
	}
	f := fixture{
		store:    store.NewGormStore(db, grid.Default),
		blobs:    mem,
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Blobs:    blobs,
		Notifier: f.notifier,
		Metrics:  f.metrics,
	})
	return f
}

func (f fixture) part(t *testing.T, name string) int64 {
	t.Helper()
	res := f.svc.CreatePart(context.Background(), admin, PartInput{Name: name, StoreLink: "https://shop.example/" + name})
	require.True(t, res.Success, res.Message)
	return res.Data.ID
}

func (f fixture) machine(t *testing.T, name, image string, placements ...store.PlacementInput) int64 {
	t.Helper()
	res := f.svc.CreateMachine(context.Background(), admin, MachineInput{Name: name, ImageRef: image, Placements: placements})
	require.True(t, res.Success, res.Message)
	return res.Data.ID
}

func TestResultShape(t *testing.T) {
	ok, err := json.Marshal(OK("done", Created{ID: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"done","data":{"id":3}}`, string(ok))

	fields := apperr.FieldErrors{}
	fields.Add("name", "name is required")
	bad, err := json.Marshal(Fail[Created](apperr.Validation("invalid machine", fields)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"invalid machine","fieldErrors":{"name":["name is required"]}}`, string(bad))

	hidden := Fail[Created](errors.New("pq: connection refused"))
	assert.Equal(t, apperr.KindStorage, hidden.Kind)
	assert.NotContains(t, hidden.Message, "pq")
}

func TestCreateMachine_Permissions(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")
	in := MachineInput{Name: "Press", ImageRef: "/images/p.png", Placements: []store.PlacementInput{{PartID: belt, Location: 1}}}

	res := f.svc.CreateMachine(context.Background(), nil, in)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindPermission, res.Kind)

	res = f.svc.CreateMachine(context.Background(), client, in)
	assert.Equal(t, apperr.KindPermission, res.Kind)

	res = f.svc.CreateMachine(context.Background(), engineer, in)
	assert.True(t, res.Success)
}

func TestCreateMachine_DuplicateLocationReportsFields(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")
	gear := f.part(t, "gear")

	res := f.svc.CreateMachine(context.Background(), admin, MachineInput{
		Name:     "Press",
		ImageRef: "/images/p.png",
		Placements: []store.PlacementInput{
			{PartID: belt, Location: 12},
			{PartID: gear, Location: 12},
		},
	})
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindConflict, res.Kind)
	assert.Contains(t, res.FieldErrors, "placements")
	assert.Nil(t, res.Data)
}

func TestVisibility(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")
	a := f.machine(t, "A", "/images/a.png", store.PlacementInput{PartID: belt, Location: 0})
	b := f.machine(t, "B", "/images/b.png", store.PlacementInput{PartID: belt, Location: 0})

	assign := f.svc.AssignMachines(context.Background(), client.UserID, []int64{b})
	require.True(t, assign.Success)

	all := f.svc.ListMachines(context.Background(), admin, 1, 10)
	require.True(t, all.Success)
	assert.Equal(t, int64(2), all.Data.Total)

	mine := f.svc.ListMachines(context.Background(), client, 1, 10)
	require.True(t, mine.Success)
	assert.Equal(t, int64(1), mine.Data.Total)
	assert.Equal(t, b, mine.Data.Items[0].ID)

	hidden := f.svc.GetMachine(context.Background(), client, a)
	assert.Equal(t, apperr.KindNotFound, hidden.Kind)

	anon := f.svc.ListMachines(context.Background(), nil, 1, 10)
	assert.Equal(t, apperr.KindPermission, anon.Kind)

	parts := f.svc.ListParts(context.Background(), client)
	require.True(t, parts.Success)
	assert.Len(t, *parts.Data, 1)
}

func TestReplacePlacements_NotifiesAndReturnsDetail(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")
	gear := f.part(t, "gear")
	id := f.machine(t, "Press", "/images/p.png", store.PlacementInput{PartID: belt, Location: 0})

	res := f.svc.ReplacePlacements(context.Background(), admin, id, PlacementsInput{
		Placements: []store.PlacementInput{{PartID: gear, Location: 5}, {PartID: belt, Location: 6}},
	})
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Data.Placements, 2)
	assert.Equal(t, "gear", res.Data.Placements[0].Name)
	assert.Equal(t, int64(2), res.Data.Version)

	assert.Equal(t, []notification.Event{{MachineID: id, Change: notification.ChangePlacements}}, f.notifier.Events())

	stale := f.svc.ReplacePlacements(context.Background(), admin, id, PlacementsInput{
		Placements:      []store.PlacementInput{{PartID: gear, Location: 7}},
		ExpectedVersion: ptr(int64(1)),
	})
	assert.Equal(t, apperr.KindConflict, stale.Kind)
}

func TestDeleteMachine_ReleasesImage(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")

	up := f.svc.UploadImage(context.Background(), admin, pngBytes(t, 8, 8))
	require.True(t, up.Success, up.Message)
	require.Equal(t, 1, f.blobs.Len())

	id := f.machine(t, "Press", up.Data.URL, store.PlacementInput{PartID: belt, Location: 0})

	res := f.svc.DeleteMachine(context.Background(), admin, id)
	require.True(t, res.Success)
	assert.Zero(t, f.blobs.Len())

	again := f.svc.DeleteMachine(context.Background(), admin, id)
	assert.Equal(t, apperr.KindNotFound, again.Kind)
}

func TestDeleteMachine_BlobFailureIsNotEscalated(t *testing.T) {
	mem := blob.NewMemory("/images")
	f := newFixture(t, failingBlobs{mem})
	belt := f.part(t, "belt")

	url, err := mem.Put(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	id := f.machine(t, "Press", url, store.PlacementInput{PartID: belt, Location: 0})

	res := f.svc.DeleteMachine(context.Background(), admin, id)
	assert.True(t, res.Success)
	assert.Equal(t, 1, mem.Len())
}

func TestEditMachine_ReleasesReplacedImage(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")

	oldURL, err := f.blobs.Put(context.Background(), []byte("old"), "image/png")
	require.NoError(t, err)
	newURL, err := f.blobs.Put(context.Background(), []byte("new"), "image/png")
	require.NoError(t, err)

	id := f.machine(t, "Press", oldURL, store.PlacementInput{PartID: belt, Location: 0})
	res := f.svc.EditMachine(context.Background(), admin, id, MachineInput{
		Name:       "Press v2",
		ImageRef:   newURL,
		Placements: []store.PlacementInput{{PartID: belt, Location: 3}},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Press v2", res.Data.Name)

	_, ok := f.blobs.Get(oldURL)
	assert.False(t, ok)
	_, ok = f.blobs.Get(newURL)
	assert.True(t, ok)
}

func TestUpdate_SameImageWithWhitespaceIsKept(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	belt := f.part(t, "belt")

	url, err := f.blobs.Put(ctx, []byte("img"), "image/png")
	require.NoError(t, err)
	id := f.machine(t, "Press", url, store.PlacementInput{PartID: belt, Location: 0})

	res := f.svc.UpdateMachineMeta(ctx, admin, id, MetaInput{Name: "Press", ImageRef: url + " "})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, url, res.Data.ImageRef)

	edit := f.svc.EditMachine(ctx, admin, id, MachineInput{
		Name:       "Press",
		ImageRef:   "\t" + url,
		Placements: []store.PlacementInput{{PartID: belt, Location: 1}},
	})
	require.True(t, edit.Success, edit.Message)
	assert.Equal(t, url, edit.Data.ImageRef)

	_, ok := f.blobs.Get(url)
	assert.True(t, ok, "image still referenced by the machine")
}

func TestDeletePart_NotifiesAffectedMachines(t *testing.T) {
	f := newFixture(t, nil)
	belt := f.part(t, "belt")
	gear := f.part(t, "gear")
	a := f.machine(t, "A", "/images/a.png", store.PlacementInput{PartID: belt, Location: 0}, store.PlacementInput{PartID: gear, Location: 1})
	f.machine(t, "B", "/images/b.png", store.PlacementInput{PartID: gear, Location: 0})

	res := f.svc.DeletePart(context.Background(), admin, belt)
	require.True(t, res.Success)
	assert.Equal(t, []notification.Event{{MachineID: a, Change: notification.ChangeParts}}, f.notifier.Events())

	detail := f.svc.GetMachine(context.Background(), admin, a)
	require.True(t, detail.Success)
	assert.Len(t, detail.Data.Placements, 1)
}

func TestUploadImage_RejectsGarbage(t *testing.T) {
	f := newFixture(t, nil)
	res := f.svc.UploadImage(context.Background(), admin, []byte("<svg/>"))
	assert.Equal(t, apperr.KindValidation, res.Kind)
	assert.Contains(t, res.FieldErrors, "file")
	assert.Zero(t, f.blobs.Len())
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func ptr[T any](v T) *T { return &v }
