// Package catalog is the outward surface of the machine catalog: it gates
// each operation on the caller's identity, runs it against the store and
// answers with a Result.
package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"machine-catalog-backend/internal/access"
	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/blob"
	"machine-catalog-backend/internal/imaging"
	"machine-catalog-backend/internal/metrics"
	"machine-catalog-backend/internal/model"
	"machine-catalog-backend/internal/notification"
	"machine-catalog-backend/internal/store"
)

// Notifier announces committed machine changes.
type Notifier interface {
	Dispatch(ev notification.Event)
}

// MachineInput is the body of machine create and edit requests.
type MachineInput struct {
	Name            string                 `json:"name"`
	ImageRef        string                 `json:"imageRef"`
	Placements      []store.PlacementInput `json:"placements"`
	ExpectedVersion *int64                 `json:"expectedVersion,omitempty"`
}

// MetaInput is the body of a metadata-only machine update.
type MetaInput struct {
	Name            string `json:"name"`
	ImageRef        string `json:"imageRef"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// PlacementsInput is the body of a placement replacement.
type PlacementsInput struct {
	Placements      []store.PlacementInput `json:"placements"`
	ExpectedVersion *int64                 `json:"expectedVersion,omitempty"`
}

// PartInput is the body of part create and update requests.
type PartInput struct {
	Name      string `json:"name"`
	StoreLink string `json:"storeLink"`
}

// Created carries the id of a new record.
type Created struct {
	ID int64 `json:"id"`
}

// Deleted carries the id of a removed record.
type Deleted struct {
	ID int64 `json:"id"`
}

// Upload carries the URL of a stored image.
type Upload struct {
	URL string `json:"url"`
}

// Service implements every catalog operation.
type Service struct {
	store    store.Store
	filter   *access.Filter
	blobs    blob.Store
	images   *imaging.Transformer
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

// Deps are the collaborators of a Service. Blobs, Images, Notifier and
// Metrics are optional.
type Deps struct {
	Store    store.Store
	Filter   *access.Filter
	Blobs    blob.Store
	Images   *imaging.Transformer
	Notifier Notifier
	Metrics  *metrics.Metrics
	Log      *zap.SugaredLogger
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	if d.Filter == nil {
		d.Filter = access.NewFilter(nil)
	}
	if d.Images == nil {
		d.Images = imaging.New(0, 0)
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return &Service{
		store:    d.Store,
		filter:   d.Filter,
		blobs:    d.Blobs,
		images:   d.Images,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log,
	}
}

// ListMachines returns one page of the machines visible to id.
func (s *Service) ListMachines(ctx context.Context, id *auth.Identity, page, pageSize int) Result[store.MachinePage] {
	scope, err := s.filter.Scope(id)
	if err != nil {
		return Fail[store.MachinePage](err)
	}
	out, err := s.store.ListMachines(ctx, scope, page, pageSize)
	if err != nil {
		return failure[store.MachinePage](s, "list_machines", err)
	}
	return OK("machines listed", out)
}

// GetMachine returns a machine visible to id with its placements.
func (s *Service) GetMachine(ctx context.Context, id *auth.Identity, machineID int64) Result[store.MachineDetail] {
	scope, err := s.filter.Scope(id)
	if err != nil {
		return Fail[store.MachineDetail](err)
	}
	out, err := s.store.GetMachine(ctx, scope, machineID)
	if err != nil {
		return failure[store.MachineDetail](s, "get_machine", err)
	}
	return OK("machine loaded", out)
}

func (s *Service) CreateMachine(ctx context.Context, id *auth.Identity, in MachineInput) Result[Created] {
	const op = "create_machine"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[Created](s, op, err)
	}
	machineID, err := s.store.CreateMachine(ctx, in.Name, in.ImageRef, in.Placements)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[Created](s, op, err)
	}
	s.log.Infow("Machine created", "machine", machineID, "placements", len(in.Placements), "user", id.UserID)
	return OK("machine created", Created{ID: machineID})
}

// ReplacePlacements makes in.Placements the complete placement set of a
// machine and returns the machine as stored afterwards.
func (s *Service) ReplacePlacements(ctx context.Context, id *auth.Identity, machineID int64, in PlacementsInput) Result[store.MachineDetail] {
	const op = "replace_placements"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[store.MachineDetail](s, op, err)
	}
	err := s.store.ReplacePlacements(ctx, machineID, in.Placements, in.ExpectedVersion)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[store.MachineDetail](s, op, err)
	}
	s.notify(notification.ChangePlacements, machineID)
	return s.reload(ctx, machineID, "placements saved")
}

func (s *Service) UpdateMachineMeta(ctx context.Context, id *auth.Identity, machineID int64, in MetaInput) Result[store.MachineDetail] {
	const op = "update_machine"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[store.MachineDetail](s, op, err)
	}
	prevImage, err := s.store.UpdateMachineMeta(ctx, machineID, in.Name, in.ImageRef, in.ExpectedVersion)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[store.MachineDetail](s, op, err)
	}
	if imageReplaced(prevImage, in.ImageRef) {
		s.releaseImage(ctx, prevImage)
	}
	s.notify(notification.ChangeDetails, machineID)
	return s.reload(ctx, machineID, "machine updated")
}

// EditMachine replaces metadata and placements in one step. A replaced image
// owned by the blob store is deleted afterwards.
func (s *Service) EditMachine(ctx context.Context, id *auth.Identity, machineID int64, in MachineInput) Result[store.MachineDetail] {
	const op = "edit_machine"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[store.MachineDetail](s, op, err)
	}
	prevImage, err := s.store.EditMachine(ctx, machineID, in.Name, in.ImageRef, in.Placements, in.ExpectedVersion)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[store.MachineDetail](s, op, err)
	}
	if imageReplaced(prevImage, in.ImageRef) {
		s.releaseImage(ctx, prevImage)
	}
	s.notify(notification.ChangeDetails, machineID)
	return s.reload(ctx, machineID, "machine saved")
}

// DeleteMachine removes a machine with its placements and assignments, then
// deletes its image. A failed image deletion does not fail the operation.
func (s *Service) DeleteMachine(ctx context.Context, id *auth.Identity, machineID int64) Result[Deleted] {
	const op = "delete_machine"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[Deleted](s, op, err)
	}
	imageRef, err := s.store.DeleteMachine(ctx, machineID)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[Deleted](s, op, err)
	}
	s.releaseImage(ctx, imageRef)
	s.log.Infow("Machine deleted", "machine", machineID, "user", id.UserID)
	return OK("machine deleted", Deleted{ID: machineID})
}

// ListParts returns the shared part catalog to any authenticated caller.
func (s *Service) ListParts(ctx context.Context, id *auth.Identity) Result[[]model.Part] {
	if _, err := s.filter.Scope(id); err != nil {
		return Fail[[]model.Part](err)
	}
	parts, err := s.store.ListParts(ctx)
	if err != nil {
		return failure[[]model.Part](s, "list_parts", err)
	}
	return OK("parts listed", parts)
}

func (s *Service) GetPart(ctx context.Context, id *auth.Identity, partID int64) Result[model.Part] {
	if _, err := s.filter.Scope(id); err != nil {
		return Fail[model.Part](err)
	}
	part, err := s.store.GetPart(ctx, partID)
	if err != nil {
		return failure[model.Part](s, "get_part", err)
	}
	return OK("part loaded", part)
}

func (s *Service) CreatePart(ctx context.Context, id *auth.Identity, in PartInput) Result[model.Part] {
	const op = "create_part"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[model.Part](s, op, err)
	}
	part, err := s.store.CreatePart(ctx, in.Name, in.StoreLink)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[model.Part](s, op, err)
	}
	return OK("part created", part)
}

func (s *Service) UpdatePart(ctx context.Context, id *auth.Identity, partID int64, in PartInput) Result[model.Part] {
	const op = "update_part"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[model.Part](s, op, err)
	}
	part, machines, err := s.store.UpdatePart(ctx, partID, in.Name, in.StoreLink)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[model.Part](s, op, err)
	}
	s.notify(notification.ChangeParts, machines...)
	return OK("part updated", part)
}

// DeletePart removes a part from the catalog and from every machine that
// placed it.
func (s *Service) DeletePart(ctx context.Context, id *auth.Identity, partID int64) Result[Deleted] {
	const op = "delete_part"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[Deleted](s, op, err)
	}
	machines, err := s.store.DeletePart(ctx, partID)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[Deleted](s, op, err)
	}
	s.notify(notification.ChangeParts, machines...)
	return OK("part deleted", Deleted{ID: partID})
}

// UploadImage normalizes an uploaded schematic and stores it. The returned
// URL is what machine create and edit requests reference.
func (s *Service) UploadImage(ctx context.Context, id *auth.Identity, data []byte) Result[Upload] {
	const op = "upload_image"
	if err := s.filter.CanMutate(id); err != nil {
		return denied[Upload](s, op, err)
	}
	if s.blobs == nil {
		return Fail[Upload](apperr.Storage("image storage is not configured", nil))
	}

	out, contentType, err := s.images.Transform(data)
	if err != nil {
		fields := apperr.FieldErrors{}
		fields.Add("file", err.Error())
		verr := apperr.Validation("invalid image", fields)
		s.metrics.Mutation(op, verr)
		return Fail[Upload](verr)
	}

	url, err := s.blobs.Put(ctx, out, contentType)
	if err != nil {
		serr := apperr.Storage("failed to store image", err)
		s.metrics.Mutation(op, serr)
		return failure[Upload](s, op, serr)
	}
	s.metrics.Mutation(op, nil)
	return OK("image uploaded", Upload{URL: url})
}

// MachineRefs lists every machine by id and name for trusted integrations.
func (s *Service) MachineRefs(ctx context.Context) Result[[]store.MachineRef] {
	refs, err := s.store.ListMachineRefs(ctx)
	if err != nil {
		return failure[[]store.MachineRef](s, "list_machine_refs", err)
	}
	return OK("machines listed", refs)
}

// AssignMachines grants a user visibility of machines on behalf of a trusted
// integration.
func (s *Service) AssignMachines(ctx context.Context, userID string, machineIDs []int64) Result[store.AssignResult] {
	const op = "assign_machines"
	res, err := s.store.AssignMachines(ctx, userID, machineIDs)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[store.AssignResult](s, op, err)
	}
	s.log.Infow("Machines assigned", "user", userID, "added", res.Added, "skipped", res.Skipped)
	return OK("machines assigned", res)
}

// UnassignMachine revokes one assignment on behalf of a trusted integration.
func (s *Service) UnassignMachine(ctx context.Context, userID string, machineID int64) Result[Deleted] {
	const op = "unassign_machine"
	err := s.store.UnassignMachine(ctx, userID, machineID)
	s.metrics.Mutation(op, err)
	if err != nil {
		return failure[Deleted](s, op, err)
	}
	return OK("machine unassigned", Deleted{ID: machineID})
}

func (s *Service) reload(ctx context.Context, machineID int64, msg string) Result[store.MachineDetail] {
	detail, err := s.store.GetMachine(ctx, store.AllMachines(), machineID)
	if err != nil {
		return failure[store.MachineDetail](s, "get_machine", err)
	}
	return OK(msg, detail)
}

func (s *Service) notify(change notification.Change, machineIDs ...int64) {
	if s.notifier == nil {
		return
	}
	for _, id := range machineIDs {
		s.notifier.Dispatch(notification.Event{MachineID: id, Change: change})
	}
}

// imageReplaced reports whether an update moved the machine off prev. The
// store keeps the trimmed reference, so next is compared the same way.
func imageReplaced(prev, next string) bool {
	return prev != "" && prev != strings.TrimSpace(next)
}

// releaseImage deletes an image this service stored. Failures are logged and
// counted only.
func (s *Service) releaseImage(ctx context.Context, url string) {
	if s.blobs == nil || url == "" || !s.blobs.Owns(url) {
		return
	}
	if err := s.blobs.Delete(ctx, url); err != nil {
		s.metrics.BlobDeleteFailed()
		s.log.Warnw("Failed to delete image blob", "url", url, "error", err)
	}
}

func failure[T any](s *Service, op string, err error) Result[T] {
	if apperr.KindOf(err) == apperr.KindStorage {
		s.log.Errorw("Catalog operation failed", "op", op, "error", err)
	}
	return Fail[T](err)
}

func denied[T any](s *Service, op string, err error) Result[T] {
	s.metrics.Mutation(op, err)
	return Fail[T](err)
}
