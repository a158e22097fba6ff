//Package classify maps observed honeypot activity onto AbuseIPDB category
//codes and human readable report comments. All functions are deterministic
//and side-effect free; sanitizing operator IPs out of the generated text is
//the caller's responsibility.
package classify

import (
	"fmt"
	"strings"
	"time"
)

//AbuseIPDB numeric category codes
const (
	CategoryFTPBruteForce = "5"
	CategoryPortScan      = "14"
	CategoryHacking       = "15"
	CategoryBruteForce    = "18"
	CategoryBadWebBot     = "19"
	CategoryExploitedHost = "20"
	CategoryWebAppAttack  = "21"
	CategorySSH           = "22"
	CategoryIoTTargeted   = "23"
)

//credsCommentLimit caps the joined credential list inside a comment so a
//noisy brute forcer cannot push the rest of the narrative past the API's
//comment length limit
const credsCommentLimit = 900

type (
	//SessionSummary is the merged view of every interactive session observed
	//from one attacker IP within a flush window
	SessionSummary struct {
		Port          int
		Proto         string
		ClientVersion string
		Timestamp     time.Time
		Credentials   []string
		Commands      []string
		DownloadURLs  []string
		Fingerprints  []string
		Uploads       []string
		Tunnels       []string
	}
)

//Interactive classifies a merged interactive (shell honeypot) session and
//builds its report comment. The base hacking category is always present;
//brute-force, protocol, exploited-host, and file-download categories are
//stacked on top as the evidence warrants. A bare connection with no
//credentials and no commands is reported as a lightweight port probe instead.
func Interactive(s *SessionSummary, serverID string) ([]string, string) {
	categories := []string{CategoryHacking}

	loginAttempts := len(s.Credentials)
	cmdCount := len(s.Commands)

	if len(s.DownloadURLs) > 0 {
		categories = append(categories, CategoryWebAppAttack)
	}
	if loginAttempts >= 2 {
		categories = append(categories, CategoryBruteForce)
	}
	switch strings.ToLower(s.Proto) {
	case "ssh":
		categories = append(categories, CategorySSH)
	case "telnet":
		categories = append(categories, CategoryIoTTargeted)
	}
	if cmdCount > 0 {
		categories = append(categories, CategoryExploitedHost)
	}
	if loginAttempts == 0 && cmdCount == 0 {
		categories = append(categories, CategoryPortScan)
	}

	return categories, interactiveComment(s, serverID)
}

func interactiveComment(s *SessionSummary, serverID string) string {
	loginAttempts := len(s.Credentials)
	cmdCount := len(s.Commands)
	var lines []string

	attack := "Unauthorized connection attempt"
	if loginAttempts > 0 {
		attack = "Brute-force attack"
	}
	lines = append(lines, fmt.Sprintf(
		"Honeypot %s: %s detected on %d/%s",
		CommentTag(serverID), attack, s.Port, strings.ToUpper(s.Proto),
	))

	if loginAttempts == 1 {
		lines = append(lines, "• Credential used: "+s.Credentials[0])
	} else if loginAttempts > 1 {
		joined := strings.Join(s.Credentials, ", ")
		if len(joined) > credsCommentLimit {
			joined = joined[:credsCommentLimit]
			// do not leave a clipped credential pair dangling
			if idx := strings.LastIndex(joined, ","); idx > 0 {
				joined = joined[:idx]
			}
			joined += "..."
		}
		lines = append(lines, "• Credentials: "+joined)
	}

	if loginAttempts > 0 {
		lines = append(lines, fmt.Sprintf("• Number of login attempts: %d", loginAttempts))
	}
	if cmdCount > 0 {
		lines = append(lines, fmt.Sprintf("• %d command(s) were executed during the session", cmdCount))
	}
	if s.ClientVersion != "" {
		lines = append(lines, "• Client: "+s.ClientVersion)
	}
	if len(s.DownloadURLs) > 0 {
		lines = append(lines, "• Suspicious file URLs: "+strings.Join(s.DownloadURLs, ", "))
	}
	if len(s.Fingerprints) > 0 {
		lines = append(lines, "• SSH key fingerprints: "+strings.Join(s.Fingerprints, ", "))
	}
	if len(s.Uploads) > 0 {
		lines = append(lines, "• Uploaded files: "+strings.Join(s.Uploads, ", "))
	}
	if len(s.Tunnels) > 0 {
		lines = append(lines, "• TCP tunnels: "+strings.Join(s.Tunnels, ", "))
	}

	return strings.Join(lines, "\n")
}

//CommentTag renders the sensor identifier prefix used in every comment
func CommentTag(serverID string) string {
	if serverID == "" {
		return "hit"
	}
	return "[" + serverID + "]"
}
