// Package mailer builds and sends transcript delivery mail over SMTP. It
// loads plain-text recipient rosters, renders the configured subject and body
// templates, and attaches the finished transcript.
package mailer
