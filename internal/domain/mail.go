package domain

// MailAccount is a tenant's SMTP account with its credential already decrypted.
// It only lives in memory for the duration of a send.
type MailAccount struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// MailAccountFor builds the account of an organization from a decrypted password
func MailAccountFor(org *Organization, password string) MailAccount {
	fromName := org.FromName
	if fromName == "" {
		fromName = org.Name
	}
	return MailAccount{
		Host:      org.SMTPHost,
		Port:      org.SMTPPort,
		Username:  org.SMTPUsername,
		Password:  password,
		FromEmail: org.FromEmail,
		FromName:  fromName,
	}
}
