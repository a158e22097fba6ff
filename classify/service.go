package classify

import (
	"fmt"
	"strings"
)

//Service classifies a single service-emulation (protocol probe) event. These
//protocols are inherently single-shot, so one event maps directly onto one
//category set and comment with no session folding.
func Service(proto string, port int, username string, password string, serverID string) ([]string, string) {
	var categories []string
	var comment string

	switch strings.ToLower(proto) {
	case "mssqld":
		if username != "" && password == "" {
			categories = []string{CategoryBruteForce}
			comment = fmt.Sprintf("MSSQL traffic (on %d) with username %s and empty password", port, username)
		} else if username != "" {
			categories = []string{CategoryBruteForce}
			comment = fmt.Sprintf("MSSQL traffic (on %d) with credentials %s:%s", port, username, password)
		} else {
			categories = []string{CategoryPortScan}
			comment = fmt.Sprintf("MSSQL traffic (on %d) without login credentials", port)
		}
	case "httpd":
		categories = []string{CategoryWebAppAttack, CategoryBadWebBot}
		comment = fmt.Sprintf("Incoming HTTP traffic on port %d", port)
	case "ftp":
		categories = []string{CategoryFTPBruteForce, CategoryBruteForce}
		comment = fmt.Sprintf("FTP brute-force or probing on port %d", port)
	case "smbd":
		categories = []string{CategoryIoTTargeted}
		comment = fmt.Sprintf("SMB traffic on port %d", port)
	case "mysql":
		categories = []string{CategoryBruteForce}
		comment = fmt.Sprintf("MySQL brute-force or probing on port %d", port)
	case "tftp":
		categories = []string{CategoryExploitedHost}
		comment = fmt.Sprintf("TFTP protocol traffic on %d", port)
	case "upnp", "mqtt":
		categories = []string{CategoryIoTTargeted}
		comment = fmt.Sprintf("Unauthorized %s traffic on %d", strings.ToUpper(proto), port)
	default:
		categories = []string{CategoryPortScan}
		comment = fmt.Sprintf("Unauthorized traffic on %d/%s", port, proto)
	}

	return categories, fmt.Sprintf("Honeypot %s: %s", CommentTag(serverID), comment)
}
