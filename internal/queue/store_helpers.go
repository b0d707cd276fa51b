package queue

import (
	"database/sql"
	"errors"
	"time"
)

// Timestamps are stored as text. created_at/updated_at use RFC3339Nano;
// send_after uses a fixed-width second-resolution form so the
// (status, send_after) index supports lexicographic range scans.
const sendAfterLayout = "2006-01-02 15:04:05"

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func sendAfterStamp(t time.Time) string {
	return t.UTC().Format(sendAfterLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation(sendAfterLayout, value, time.UTC)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

const jobColumns = "id, name, slug, url, status, progress, log, media_path, txt_path, recipient_group, error_message, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         int64
		name       string
		slug       string
		url        string
		statusStr  string
		progress   float64
		logText    string
		mediaPath  sql.NullString
		txtPath    sql.NullString
		group      sql.NullString
		errMessage sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&id,
		&name,
		&slug,
		&url,
		&statusStr,
		&progress,
		&logText,
		&mediaPath,
		&txtPath,
		&group,
		&errMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Name:           name,
		Slug:           slug,
		URL:            url,
		Status:         JobStatus(statusStr),
		Progress:       progress,
		Log:            logText,
		MediaPath:      mediaPath.String,
		TxtPath:        txtPath.String,
		RecipientGroup: group.String,
		ErrorMessage:   errMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

const messageColumns = "id, job_id, to_addr, subject, body_text, body_html, attachment_path, status, attempts, last_error, send_after, created_at, updated_at"

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var (
		id           int64
		jobID        sql.NullInt64
		toAddr       string
		subject      string
		bodyText     string
		bodyHTML     sql.NullString
		attachment   sql.NullString
		statusStr    string
		attempts     int
		lastError    sql.NullString
		sendAfterRaw string
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&toAddr,
		&subject,
		&bodyText,
		&bodyHTML,
		&attachment,
		&statusStr,
		&attempts,
		&lastError,
		&sendAfterRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             id,
		JobID:          jobID.Int64,
		To:             toAddr,
		Subject:        subject,
		BodyText:       bodyText,
		BodyHTML:       bodyHTML.String,
		AttachmentPath: attachment.String,
		Status:         MessageStatus(statusStr),
		Attempts:       attempts,
		LastError:      lastError.String,
	}
	if sendAfter, err := parseTimeString(sendAfterRaw); err == nil {
		msg.SendAfter = sendAfter
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		msg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		msg.UpdatedAt = updated
	}
	return msg, nil
}
