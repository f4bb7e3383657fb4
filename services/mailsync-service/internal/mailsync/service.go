package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/logger"
	"github.com/stoik/mailvault/internal/mailfmt"
	"github.com/stoik/mailvault/internal/models"
	"github.com/stoik/mailvault/services/mailsync-service/internal/provider"
	"github.com/stoik/mailvault/services/mailsync-service/internal/store"
)

// Result counts what one folder sync did with the items it saw.
type Result struct {
	Folder     models.Folder `json:"folder"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	// Partial is set when the listing stopped before the end of the folder.
	Partial bool `json:"partial"`
}

// Summary is the outcome of SyncAll.
type Summary struct {
	RunID string `json:"run_id"`
	Sent  Result `json:"sent"`
	Inbox Result `json:"inbox"`
}

// WindowFunc returns the start of the sync window for a full sync started at now.
type WindowFunc func(now time.Time) time.Time

type Service struct {
	provider provider.Provider
	store    store.Store
	window   WindowFunc
	logger   *zap.Logger
	now      func() time.Time

	// WaitGroup to track running syncs
	processingWg sync.WaitGroup
}

func NewService(p provider.Provider, s store.Store, window WindowFunc, l *zap.Logger) *Service {
	if l == nil {
		l = zap.NewNop()
	}
	if window == nil {
		window = func(now time.Time) time.Time { return now.AddDate(0, 0, -1) }
	}
	return &Service{
		provider: p,
		store:    s,
		window:   window,
		logger:   l,
		now:      time.Now,
	}
}

// SyncAll syncs the sent folder and then the inbox from the configured window
// start. Both folders are always attempted; their errors are joined.
func (s *Service) SyncAll(ctx context.Context) (Summary, error) {
	s.processingWg.Add(1)
	defer s.processingWg.Done()

	runID := uuid.NewString()
	log := logger.WithRun(s.logger, runID)
	since := s.window(s.now())
	summary := Summary{RunID: runID}

	log.Info("sync started", zap.Time("since", since))

	var errs []error
	for _, folder := range models.SyncOrder {
		res, err := s.syncFolder(ctx, log, folder, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", folder, err))
		}
		switch folder {
		case models.FolderSent:
			summary.Sent = res
		case models.FolderInbox:
			summary.Inbox = res
		}
	}

	log.Info("sync finished",
		zap.Int("sent", summary.Sent.Created),
		zap.Int("inbox", summary.Inbox.Created),
	)
	return summary, errors.Join(errs...)
}

// SyncFolder pulls the items of folder received at or after since and
// persists the new messages, one at a time.
func (s *Service) SyncFolder(ctx context.Context, folder models.Folder, since time.Time) (Result, error) {
	return s.syncFolder(ctx, s.logger, folder, since)
}

func (s *Service) syncFolder(ctx context.Context, log *zap.Logger, folder models.Folder, since time.Time) (Result, error) {
	log = log.With(zap.String("folder", string(folder)))
	res := Result{Folder: folder}

	start := time.Now()
	defer func() { recordDuration(folder, time.Since(start)) }()

	it, err := s.provider.FetchItems(ctx, folder, since)
	if err != nil {
		log.Error("failed to open folder", zap.Error(err))
		if !errors.Is(err, models.ErrSourceUnavailable) {
			err = errors.Join(models.ErrSourceUnavailable, err)
		}
		return res, fmt.Errorf("open folder %s: %w", folder, err)
	}
	defer it.Close()

	var attempts, storeFailures int
	for it.Next(ctx) {
		outcome, storeErr := s.processItem(ctx, log, folder, it.Item())
		recordItem(folder, outcome)

		switch outcome {
		case OutcomeCreated:
			res.Created++
		case OutcomeDuplicate:
			res.Duplicates++
		case OutcomeSkipped:
			res.Skipped++
			continue
		case OutcomeFailed:
			res.Failed++
		}
		attempts++
		if storeErr {
			storeFailures++
		}
	}

	if err := it.Err(); err != nil {
		res.Partial = true
		switch {
		case errors.Is(err, models.ErrSourceOverloaded):
			log.Error("too many objects opened, stopping folder", zap.Error(err), zap.Int("created", res.Created))
		case errors.Is(err, models.ErrSourceUnavailable),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			log.Error("folder listing aborted", zap.Error(err), zap.Int("created", res.Created))
			return res, fmt.Errorf("list folder %s: %w", folder, err)
		default:
			log.Error("unexpected error while processing folder", zap.Error(err), zap.Int("created", res.Created))
		}
	}

	if attempts > 0 && res.Created == 0 && res.Duplicates == 0 && storeFailures == attempts {
		return res, fmt.Errorf("folder %s: all %d items failed to persist: %w", folder, attempts, models.ErrStoreUnavailable)
	}

	log.Info("folder synced",
		zap.Int("created", res.Created),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Bool("partial", res.Partial),
	)
	return res, nil
}

// processItem handles one item and reports its outcome. storeErr is true when
// the item failed because the store did.
func (s *Service) processItem(ctx context.Context, log *zap.Logger, folder models.Folder, item models.MailItem) (outcome string, storeErr bool) {
	if !item.IsMessage() {
		log.Debug("skipping non-message item", zap.String("kind", string(item.Kind)))
		return OutcomeSkipped, false
	}

	subject, _ := item.GetSubject()
	externalID, hasID := Identify(item)
	log = log.With(zap.String("external_id", externalID), zap.String("subject", subject))

	if hasID {
		existing, err := s.store.FindByExternalID(ctx, externalID)
		if err != nil {
			log.Error("error processing email", zap.Error(err))
			return OutcomeFailed, true
		}
		if existing != nil {
			return OutcomeDuplicate, false
		}
	}

	email, attachments, err := s.buildRecord(ctx, log, folder, item, externalID, hasID)
	if err != nil {
		log.Error("error processing email", zap.Error(err))
		return OutcomeFailed, false
	}

	if _, err := s.store.Insert(ctx, email, attachments); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			log.Info("email stored concurrently, counting as duplicate")
			return OutcomeDuplicate, false
		}
		log.Error("error processing email", zap.Error(err))
		return OutcomeFailed, true
	}

	return OutcomeCreated, false
}

// buildRecord normalizes item into the persisted email and its attachments.
func (s *Service) buildRecord(ctx context.Context, log *zap.Logger, folder models.Folder, item models.MailItem, externalID string, hasID bool) (models.StoredEmail, []models.StoredAttachment, error) {
	now := s.now().UTC()

	attachments, err := MaterializeAttachments(ctx, item, now, log)
	if err != nil {
		return models.StoredEmail{}, nil, err
	}

	recipients, primary := mailfmt.FlattenRecipients(item.Recipients)
	subject, _ := item.GetSubject()
	sender, _ := item.GetSender()
	body, _ := item.GetBody()

	received, ok := item.GetReceivedAt()
	if !ok {
		received = now
	}

	email := models.StoredEmail{
		Subject:          subject,
		Sender:           sender,
		Recipients:       recipients,
		PrimaryRecipient: primary,
		Folder:           folder,
		ReceivedAt:       received,
		BodyHTML:         body,
		BodyPlain:        mailfmt.StripTags(body),
	}
	if hasID {
		email.ExternalID = models.StringPtr(externalID)
	}
	return email, attachments, nil
}
