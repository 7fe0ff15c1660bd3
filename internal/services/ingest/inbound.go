package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// ingest stores one inbound message built from items (a single update, or
// every item of an album) and runs the follow-up side effects.
func (in *Ingester) ingest(ctx context.Context, items []transport.Update) error {
	first := items[0]
	unlock := in.locks.Lock(first.AccountID)
	defer unlock()

	atts, err := in.download(ctx, items)
	if err != nil {
		return err
	}
	removeFiles := func() {
		for _, a := range atts {
			if err := in.Files.Remove(a.FilePath); err != nil {
				in.logger.Printf("remove %s: %v", a.FilePath, err)
			}
		}
	}

	now := in.clock.Now()
	outcome, err := in.Lifecycle.EnsureForInbound(ctx, first.AccountID, now)
	if err != nil {
		removeFiles()
		return err
	}

	msg := &models.Message{
		TicketID:    outcome.Ticket.ID,
		AccountID:   first.AccountID,
		Text:        messageText(items, atts),
		Timestamp:   now,
		Attachments: atts,
	}
	if first.MessageID != 0 {
		ext := first.MessageID
		msg.ExternalMessageID = &ext
	}
	if err := in.Store.InsertMessage(ctx, msg); err != nil {
		removeFiles()
		return fmt.Errorf("store message for ticket %d: %w", outcome.Ticket.ID, err)
	}

	emp, err := in.Store.GetEmployee(ctx, first.AccountID)
	login := ""
	if err == nil {
		login = emp.Login
	}
	in.Events.Broadcast(realtime.EventNewMessage, realtime.NewMessageFrom(msg, login))
	if outcome.IsNew || outcome.IsReopened {
		in.Events.Broadcast(realtime.EventUpdateTickets, realtime.TicketsUpdated{
			TicketID:   outcome.Ticket.ID,
			AccountID:  first.AccountID,
			IsNew:      outcome.IsNew,
			IsReopened: outcome.IsReopened,
		})
	}

	ack, err := in.Lifecycle.Acknowledge(ctx, outcome)
	if err != nil {
		in.logger.Printf("ticket %d: acknowledgment check: %v", outcome.Ticket.ID, err)
	} else if ack {
		in.acknowledge(ctx, first.AccountID, len(atts) > 0, now)
	}

	in.notifyAssignee(ctx, outcome.Ticket, login, msg.Text)
	return nil
}

// download fetches every attached file into storage. On failure nothing
// already saved is left behind.
func (in *Ingester) download(ctx context.Context, items []transport.Update) ([]models.Attachment, error) {
	var atts []models.Attachment
	for _, it := range items {
		for _, f := range it.Files {
			name := f.Name
			if name == "" {
				name = f.ID
				if f.Type == models.FileImage {
					name += ".jpg"
				}
			}
			path, err := in.save(ctx, f.ID, name)
			if err != nil {
				for _, a := range atts {
					in.Files.Remove(a.FilePath)
				}
				return nil, err
			}
			ft := f.Type
			if ft == "" {
				ft = storage.DetectFileType(f.MIMEType, name)
			}
			atts = append(atts, models.Attachment{
				FilePath: path,
				FileName: filepath.Base(path),
				FileType: ft,
			})
		}
	}
	return atts, nil
}

func (in *Ingester) save(ctx context.Context, fileID, name string) (string, error) {
	rc, err := in.Transport.Download(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileID, err)
	}
	defer rc.Close()
	path, err := in.Files.Save(ctx, name, rc)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

// messageText is the first caption of the batch, or a file placeholder.
func messageText(items []transport.Update, atts []models.Attachment) string {
	for _, it := range items {
		if t := strings.TrimSpace(it.Text); t != "" {
			return t
		}
	}
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.FileName)
	}
	return "[File] " + strings.Join(names, ", ")
}

func (in *Ingester) acknowledge(ctx context.Context, accountID int64, withFiles bool, now time.Time) {
	key := support.KeyAckText
	if withFiles {
		key = support.KeyAckFileText
	}
	text, err := in.Settings.Get(ctx, key)
	if err != nil {
		in.logger.Printf("read %s: %v", key, err)
		text = support.DefaultSettings[key]
	}
	if notice := in.offHoursNotice(ctx, now); notice != "" {
		text += "\n\n" + notice
	}
	in.reply(ctx, accountID, text)
}

// offHoursNotice returns the holiday or non-working-hours notice for now,
// or "" during working time.
func (in *Ingester) offHoursNotice(ctx context.Context, now time.Time) string {
	cal, err := in.Settings.Calendar(ctx)
	if err != nil {
		in.logger.Printf("load calendar: %v", err)
		return ""
	}
	st := cal.Status(now)
	switch {
	case st.Holiday:
		notice, err := in.Settings.Get(ctx, support.KeyHolidayNotice)
		if err != nil {
			return ""
		}
		return strings.ReplaceAll(notice, "{holiday}", st.HolidayName)
	case !st.WorkingTime:
		notice, err := in.Settings.Get(ctx, support.KeyNonWorkingNotice)
		if err != nil {
			return ""
		}
		return notice
	}
	return ""
}

func (in *Ingester) notifyAssignee(ctx context.Context, t *models.Ticket, login, text string) {
	if !t.NotificationEnabled || t.AssignedTo == nil {
		return
	}
	if login == "" {
		login = strconv.FormatInt(t.AccountID, 10)
	}
	if err := in.Outbound.Enqueue(ctx, outbound.Job{
		AccountID: *t.AssignedTo,
		Text:      fmt.Sprintf(AssigneeNotice, t.ID, login, text),
		Buttons:   outbound.TicketButtons(t.ID, in.consoleURL),
	}); err != nil {
		in.logger.Printf("notify assignee of ticket %d: %v", t.ID, err)
	}
}

// handleEdit mirrors an end user's edit onto the stored message.
func (in *Ingester) handleEdit(ctx context.Context, u transport.Update) error {
	unlock := in.locks.Lock(u.AccountID)
	defer unlock()

	t, err := in.Store.FindOpenTicket(ctx, u.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find open ticket for %d: %w", u.AccountID, err)
	}
	msg, err := in.Store.FindMessageByExternalID(ctx, t.ID, u.AccountID, u.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find edited message %d: %w", u.MessageID, err)
	}
	now := in.clock.Now()
	if err := in.Store.UpdateMessageText(ctx, msg.ID, u.Text, now); err != nil {
		return fmt.Errorf("update message %d: %w", msg.ID, err)
	}
	in.Events.Broadcast(realtime.EventMessageEdited, realtime.MessageEdited{
		TicketID:  t.ID,
		MessageID: msg.ID,
		Text:      u.Text,
		Timestamp: now,
	})
	return nil
}
