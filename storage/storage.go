// Package storage persists the salon's stages, visits, history and
// notification records in Azure Table storage, with stage-changed events
// handed to an Azure queue for the dispatcher.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"pawboard-api/domain"
)

// ErrNotFound is returned when the requested entity does not exist. It
// satisfies the API layer's not-found marker interface.
var ErrNotFound error = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
func (notFoundError) NotFound()     {}

// Partition keys. The salon is a single tenant; entities partition by
// kind, history and deliveries by visit.
const (
	stagePartition   = "stage"
	visitPartition   = "visit"
	viewPartition    = "view"
	servicePartition = "service"
	triggerPartition = "trigger"
)

// TableNames collects the table names a Storage operates on.
type TableNames struct {
	Stages     string
	Visits     string
	History    string
	Views      string
	Services   string
	Triggers   string
	Deliveries string
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	stages     *aztables.Client
	visits     *aztables.Client
	history    *aztables.Client
	views      *aztables.Client
	services   *aztables.Client
	triggers   *aztables.Client
	deliveries *aztables.Client
	notifyQ    *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables TableNames, notifyQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, notifyQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		stages:     svc.NewClient(tables.Stages),
		visits:     svc.NewClient(tables.Visits),
		history:    svc.NewClient(tables.History),
		views:      svc.NewClient(tables.Views),
		services:   svc.NewClient(tables.Services),
		triggers:   svc.NewClient(tables.Triggers),
		deliveries: svc.NewClient(tables.Deliveries),
		notifyQ:    nq,
	}, nil
}

type stageEntity struct {
	aztables.Entity
	Label              string `json:"Label"`
	SortOrder          int    `json:"SortOrder"`
	CapacitySoftLimit  int    `json:"CapacitySoftLimit"`
	CapacityHardLimit  int    `json:"CapacityHardLimit"`
	TimerYellowSeconds int    `json:"TimerYellowSeconds"`
	TimerRedSeconds    int    `json:"TimerRedSeconds"`
	Description        string `json:"Description"`
}

// FetchStages retrieves the configured workflow stages in sort order.
func (s *Storage) FetchStages(ctx context.Context) ([]domain.Stage, error) {
	filter := "PartitionKey eq '" + stagePartition + "'"
	pager := s.stages.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	stages := []domain.Stage{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent stageEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			stages = append(stages, domain.Stage{
				Key:                ent.RowKey,
				Label:              ent.Label,
				SortOrder:          ent.SortOrder,
				CapacitySoftLimit:  ent.CapacitySoftLimit,
				CapacityHardLimit:  ent.CapacityHardLimit,
				TimerYellowSeconds: ent.TimerYellowSeconds,
				TimerRedSeconds:    ent.TimerRedSeconds,
				Description:        ent.Description,
			})
		}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].SortOrder < stages[j].SortOrder })
	return stages, nil
}

type viewEntity struct {
	aztables.Entity
	Type         string `json:"Type"`
	StageKeys    string `json:"StageKeys"`
	ShowGuardian bool   `json:"ShowGuardian"`
	PublicToken  string `json:"PublicToken"`
}

// FetchView loads a named board configuration.
func (s *Storage) FetchView(ctx context.Context, name string) (domain.View, error) {
	resp, err := s.views.GetEntity(ctx, viewPartition, name, nil)
	if err != nil {
		return domain.View{}, mapNotFound(err)
	}
	var ent viewEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.View{}, err
	}
	var keys []string
	if ent.StageKeys != "" {
		if err := json.Unmarshal([]byte(ent.StageKeys), &keys); err != nil {
			return domain.View{}, fmt.Errorf("view %s: bad stage keys: %w", name, err)
		}
	}
	return domain.View{
		Name:         ent.RowKey,
		Type:         domain.ViewType(ent.Type),
		StageKeys:    keys,
		ShowGuardian: ent.ShowGuardian,
		PublicToken:  ent.PublicToken,
	}, nil
}

type visitEntity struct {
	aztables.Entity
	ClientName          string `json:"ClientName"`
	ClientBreed         string `json:"ClientBreed"`
	ClientNotes         string `json:"ClientNotes"`
	GuardianFirstName   string `json:"GuardianFirstName"`
	GuardianLastName    string `json:"GuardianLastName"`
	GuardianPhone       string `json:"GuardianPhone"`
	GuardianEmail       string `json:"GuardianEmail"`
	CurrentStage        string `json:"CurrentStage"`
	Status              string `json:"Status"`
	CheckInAt           string `json:"CheckInAt"`
	CheckOutAt          string `json:"CheckOutAt"`
	TimerStartedAt      string `json:"TimerStartedAt"`
	TimerElapsedSeconds int    `json:"TimerElapsedSeconds"`
	Services            string `json:"Services"`
	Flags               string `json:"Flags"`
	Instructions        string `json:"Instructions"`
	PublicNotes         string `json:"PublicNotes"`
	PrivateNotes        string `json:"PrivateNotes"`
	Photos              string `json:"Photos"`
	CheckedInBy         string `json:"CheckedInBy"`
	UpdatedAt           string `json:"UpdatedAt"`
}

func encodeVisit(v domain.Visit) ([]byte, error) {
	services, err := json.Marshal(v.Services)
	if err != nil {
		return nil, err
	}
	flags, err := json.Marshal(v.Flags)
	if err != nil {
		return nil, err
	}
	photos, err := json.Marshal(v.Photos)
	if err != nil {
		return nil, err
	}
	ent := visitEntity{
		Entity:              aztables.Entity{PartitionKey: visitPartition, RowKey: v.ID},
		ClientName:          v.Client.Name,
		ClientBreed:         v.Client.Breed,
		ClientNotes:         v.Client.Notes,
		GuardianFirstName:   v.Guardian.FirstName,
		GuardianLastName:    v.Guardian.LastName,
		GuardianPhone:       v.Guardian.Phone,
		GuardianEmail:       v.Guardian.Email,
		CurrentStage:        v.CurrentStage,
		Status:              string(v.Status),
		CheckInAt:           encodeTime(v.CheckInAt),
		CheckOutAt:          encodeTime(v.CheckOutAt),
		TimerStartedAt:      encodeTime(v.TimerStartedAt),
		TimerElapsedSeconds: v.TimerElapsedSeconds,
		Services:            string(services),
		Flags:               string(flags),
		Instructions:        v.Instructions,
		PublicNotes:         v.PublicNotes,
		PrivateNotes:        v.PrivateNotes,
		Photos:              string(photos),
		CheckedInBy:         v.CheckedInBy,
		UpdatedAt:           encodeTime(v.UpdatedAt),
	}
	return json.Marshal(ent)
}

func decodeVisit(data []byte) (domain.Visit, error) {
	var ent visitEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Visit{}, err
	}
	v := domain.Visit{
		ID: ent.RowKey,
		Client: domain.Client{
			Name:  ent.ClientName,
			Breed: ent.ClientBreed,
			Notes: ent.ClientNotes,
		},
		Guardian: domain.Guardian{
			FirstName: ent.GuardianFirstName,
			LastName:  ent.GuardianLastName,
			Phone:     ent.GuardianPhone,
			Email:     ent.GuardianEmail,
		},
		CurrentStage:        ent.CurrentStage,
		Status:              domain.VisitStatus(ent.Status),
		CheckInAt:           decodeTime(ent.CheckInAt),
		CheckOutAt:          decodeTime(ent.CheckOutAt),
		TimerStartedAt:      decodeTime(ent.TimerStartedAt),
		TimerElapsedSeconds: ent.TimerElapsedSeconds,
		Instructions:        ent.Instructions,
		PublicNotes:         ent.PublicNotes,
		PrivateNotes:        ent.PrivateNotes,
		CheckedInBy:         ent.CheckedInBy,
		UpdatedAt:           decodeTime(ent.UpdatedAt),
	}
	if ent.Services != "" {
		if err := json.Unmarshal([]byte(ent.Services), &v.Services); err != nil {
			return domain.Visit{}, err
		}
	}
	if ent.Flags != "" {
		if err := json.Unmarshal([]byte(ent.Flags), &v.Flags); err != nil {
			return domain.Visit{}, err
		}
	}
	if ent.Photos != "" {
		if err := json.Unmarshal([]byte(ent.Photos), &v.Photos); err != nil {
			return domain.Visit{}, err
		}
	}
	return v, nil
}

// FetchActiveVisits returns every visit still on the board, optionally
// restricted to those modified after the given instant. The modification
// filter is applied locally; the active-visit population is small.
func (s *Storage) FetchActiveVisits(ctx context.Context, modifiedAfter time.Time) ([]domain.Visit, error) {
	filter := "PartitionKey eq '" + visitPartition + "' and Status ne '" + string(domain.StatusCompleted) + "'"
	pager := s.visits.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	visits := []domain.Visit{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			v, err := decodeVisit(e)
			if err != nil {
				return nil, err
			}
			if !modifiedAfter.IsZero() && !v.UpdatedAt.After(modifiedAfter) {
				continue
			}
			visits = append(visits, v)
		}
	}
	return visits, nil
}

// FetchBoard assembles the board projection for a view.
func (s *Storage) FetchBoard(ctx context.Context, view domain.View, isPublic bool, modifiedAfter time.Time) (domain.Board, error) {
	stages, err := s.FetchStages(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	visits, err := s.FetchActiveVisits(ctx, modifiedAfter)
	if err != nil {
		return domain.Board{}, err
	}
	return domain.AssembleBoard(view, stages, visits, isPublic), nil
}

// FetchVisit loads one visit by ID.
func (s *Storage) FetchVisit(ctx context.Context, id string) (domain.Visit, error) {
	resp, err := s.visits.GetEntity(ctx, visitPartition, id, nil)
	if err != nil {
		return domain.Visit{}, mapNotFound(err)
	}
	return decodeVisit(resp.Value)
}

// InsertVisit persists a freshly checked-in visit.
func (s *Storage) InsertVisit(ctx context.Context, v domain.Visit) error {
	data, err := encodeVisit(v)
	if err != nil {
		return err
	}
	_, err = s.visits.AddEntity(ctx, data, nil)
	return err
}

// UpdateVisit replaces the stored visit.
func (s *Storage) UpdateVisit(ctx context.Context, v domain.Visit) error {
	data, err := encodeVisit(v)
	if err != nil {
		return err
	}
	_, err = s.visits.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// ApplyMove persists a stage transition and its audit row.
func (s *Storage) ApplyMove(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := s.UpdateVisit(ctx, v); err != nil {
		return err
	}
	return s.AppendHistory(ctx, entry)
}

// ApplyCheckIn persists a new visit and its opening audit row.
func (s *Storage) ApplyCheckIn(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := s.InsertVisit(ctx, v); err != nil {
		return err
	}
	return s.AppendHistory(ctx, entry)
}

// ApplyCheckout persists a completed visit and its terminal audit row.
func (s *Storage) ApplyCheckout(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := s.UpdateVisit(ctx, v); err != nil {
		return err
	}
	return s.AppendHistory(ctx, entry)
}

type historyEntity struct {
	aztables.Entity
	FromStage      string `json:"FromStage"`
	ToStage        string `json:"ToStage"`
	Comment        string `json:"Comment"`
	ChangedBy      string `json:"ChangedBy"`
	ChangedAt      string `json:"ChangedAt"`
	ElapsedSeconds int    `json:"ElapsedSeconds"`
}

// AppendHistory writes one immutable transition row. Rows partition by
// visit and key by transition time so a visit's audit tab reads in order.
func (s *Storage) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	ent := historyEntity{
		Entity: aztables.Entity{
			PartitionKey: entry.VisitID,
			RowKey:       fmt.Sprintf("%020d", nextHistoryStamp(entry.ChangedAt)),
		},
		FromStage:      entry.FromStage,
		ToStage:        entry.ToStage,
		Comment:        entry.Comment,
		ChangedBy:      entry.ChangedBy,
		ChangedAt:      encodeTime(entry.ChangedAt),
		ElapsedSeconds: entry.ElapsedSeconds,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.history.AddEntity(ctx, data, nil)
	return err
}

// FetchHistory returns a visit's transition rows, oldest first.
func (s *Storage) FetchHistory(ctx context.Context, visitID string) ([]domain.HistoryEntry, error) {
	filter := "PartitionKey eq '" + visitID + "'"
	pager := s.history.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	entries := []domain.HistoryEntry{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent historyEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			entries = append(entries, domain.HistoryEntry{
				VisitID:        ent.PartitionKey,
				FromStage:      ent.FromStage,
				ToStage:        ent.ToStage,
				Comment:        ent.Comment,
				ChangedBy:      ent.ChangedBy,
				ChangedAt:      decodeTime(ent.ChangedAt),
				ElapsedSeconds: ent.ElapsedSeconds,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ChangedAt.Before(entries[j].ChangedAt) })
	return entries, nil
}

type serviceEntity struct {
	aztables.Entity
	Label   string `json:"Label"`
	Context string `json:"Context"`
}

// FetchServices lists the bookable services for an intake context.
func (s *Storage) FetchServices(ctx context.Context, serviceContext string) ([]domain.ServiceItem, error) {
	filter := "PartitionKey eq '" + servicePartition + "'"
	if serviceContext != "" {
		filter += " and Context eq '" + serviceContext + "'"
	}
	pager := s.services.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.ServiceItem{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent serviceEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			items = append(items, domain.ServiceItem{Key: ent.RowKey, Label: ent.Label})
		}
	}
	return items, nil
}

// SearchIntake finds previous clients/guardians whose names contain the
// query. Matching is done locally over the visit table; table storage has
// no text search and the per-salon population is small.
func (s *Storage) SearchIntake(ctx context.Context, query string) ([]domain.IntakeMatch, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []domain.IntakeMatch{}, nil
	}
	filter := "PartitionKey eq '" + visitPartition + "'"
	pager := s.visits.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	seen := map[string]struct{}{}
	matches := []domain.IntakeMatch{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			v, err := decodeVisit(e)
			if err != nil {
				return nil, err
			}
			hay := strings.ToLower(v.Client.Name + " " + v.Guardian.FullName())
			if !strings.Contains(hay, query) {
				continue
			}
			key := strings.ToLower(v.Client.Name + "|" + v.Guardian.FullName())
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, domain.IntakeMatch{Client: v.Client, Guardian: v.Guardian})
		}
	}
	return matches, nil
}

type triggerEntity struct {
	aztables.Entity
	ToStage     string `json:"ToStage"`
	Recipient   string `json:"Recipient"`
	SubjectTmpl string `json:"SubjectTmpl"`
	BodyTmpl    string `json:"BodyTmpl"`
	Enabled     bool   `json:"Enabled"`
}

// FetchTriggers returns the enabled notification triggers registered on a
// destination stage.
func (s *Storage) FetchTriggers(ctx context.Context, toStage string) ([]domain.NotificationTrigger, error) {
	filter := "PartitionKey eq '" + triggerPartition + "' and ToStage eq '" + toStage + "'"
	pager := s.triggers.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	triggers := []domain.NotificationTrigger{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent triggerEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			if !ent.Enabled {
				continue
			}
			triggers = append(triggers, domain.NotificationTrigger{
				ID:          ent.RowKey,
				ToStage:     ent.ToStage,
				Recipient:   ent.Recipient,
				SubjectTmpl: ent.SubjectTmpl,
				BodyTmpl:    ent.BodyTmpl,
				Enabled:     ent.Enabled,
			})
		}
	}
	return triggers, nil
}

// EnqueueStageChanged hands a stage-changed event to the notification queue.
func (s *Storage) EnqueueStageChanged(ctx context.Context, ev domain.StageChangedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.notifyQ.EnqueueMessage(ctx, string(data), nil)
	return err
}

// StageChanged implements the transition engine's event sink.
func (s *Storage) StageChanged(ctx context.Context, ev domain.StageChangedEvent) error {
	return s.EnqueueStageChanged(ctx, ev)
}

type deliveryEntity struct {
	aztables.Entity
	TriggerID string `json:"TriggerID"`
	Recipient string `json:"Recipient"`
	Subject   string `json:"Subject"`
	Status    string `json:"Status"`
	Error     string `json:"Error"`
	SentAt    string `json:"SentAt"`
}

// InsertDelivery records one notification send attempt, success or not.
func (s *Storage) InsertDelivery(ctx context.Context, rec domain.DeliveryRecord) error {
	ent := deliveryEntity{
		Entity:    aztables.Entity{PartitionKey: rec.VisitID, RowKey: rec.ID},
		TriggerID: rec.TriggerID,
		Recipient: rec.Recipient,
		Subject:   rec.Subject,
		Status:    string(rec.Status),
		Error:     rec.Error,
		SentAt:    encodeTime(rec.SentAt),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.deliveries.AddEntity(ctx, data, nil)
	return err
}

// FetchDeliveries lists a visit's notification audit rows.
func (s *Storage) FetchDeliveries(ctx context.Context, visitID string) ([]domain.DeliveryRecord, error) {
	filter := "PartitionKey eq '" + visitID + "'"
	pager := s.deliveries.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	records := []domain.DeliveryRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent deliveryEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			records = append(records, domain.DeliveryRecord{
				ID:        ent.RowKey,
				TriggerID: ent.TriggerID,
				VisitID:   ent.PartitionKey,
				Recipient: ent.Recipient,
				Subject:   ent.Subject,
				Status:    domain.DeliveryStatus(ent.Status),
				Error:     ent.Error,
				SentAt:    decodeTime(ent.SentAt),
			})
		}
	}
	return records, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mapNotFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return ErrNotFound
	}
	return err
}
