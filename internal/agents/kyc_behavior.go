package agents

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/core"
)

// disposableEmailDomains are domains whose addresses are considered
// throwaway.
var disposableEmailDomains = []string{"tempmail.com", "throwaway.com", "fakeemail.com"}

// EmailPhoneIpVerification inspects the contact surface: email domain
// reputation, phone format, and login IP addresses.
type EmailPhoneIpVerification struct{ env *Env }

func NewEmailPhoneIpVerification(env *Env) *EmailPhoneIpVerification {
	return &EmailPhoneIpVerification{env: env}
}

func (a *EmailPhoneIpVerification) Type() string { return core.AgentEmailPhoneIpVerification }

func (a *EmailPhoneIpVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	userData := asMap(in.User()["user_data"])
	email := str(userData, "email")
	phone := str(userData, "phone")
	logins := asSlice(userData["login_activities"])

	var checks []core.Check

	domain := ""
	if at := strings.LastIndex(email, "@"); at != -1 {
		domain = email[at+1:]
	}
	suspicious := false
	for _, bad := range disposableEmailDomains {
		if strings.Contains(domain, bad) {
			suspicious = true
			break
		}
	}
	checks = append(checks, core.Check{
		Name:   "Email Verification",
		Status: passFail(!suspicious),
		Details: ternary(suspicious,
			fmt.Sprintf("Email domain is suspicious: %s", domain),
			fmt.Sprintf("Email domain verified: %s", domain)),
	})

	phoneValid := strings.HasPrefix(phone, "+") && len(phone) > 10
	checks = append(checks, core.Check{
		Name:   "Phone Verification",
		Status: passFail(phoneValid),
		Details: ternary(phoneValid,
			fmt.Sprintf("Phone number verified: %s", phone),
			fmt.Sprintf("Invalid phone number format: %s", phone)),
	})

	checks = append(checks, a.ipCheck(logins))

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "email": email, "phone": phone,
	}, `
Analyze the email, phone, and IP verification results and identify any suspicious patterns.
Consider the following:
1. Is the email domain suspicious or associated with temporary email services?
2. Is the phone number format valid and does it match the expected region?
3. Are the IP addresses from suspicious regions or known proxy/VPN services?
4. Are there any inconsistencies between login locations and provided address?

Your response should include:
1. An overall risk assessment for these verification factors
2. Specific suspicious patterns identified, if any
3. Recommendations for additional verification steps`)

	return successResult(a.Type(), summaryOr(analysis, "Email, phone, and IP verification completed"), checks), nil
}

// ipCheck parses every login IP; private or malformed addresses fail
// the check, and no observed IPs at all fails it too.
func (a *EmailPhoneIpVerification) ipCheck(logins []interface{}) core.Check {
	seen, bad := 0, 0
	for _, raw := range logins {
		ip := str(asMap(raw), "ip")
		if ip == "" {
			continue
		}
		seen++
		addr, err := netip.ParseAddr(ip)
		if err != nil || addr.IsPrivate() {
			bad++
		}
	}
	return core.Check{
		Name:    "IP Verification",
		Status:  passFail(seen > 0 && bad == 0),
		Details: fmt.Sprintf("IPs verified: %d, Suspicious IPs: %d", seen, bad),
	}
}

// Payment pattern thresholds.
const (
	largeTransactionAmount = 5000
	rapidTransactionWindow = 10 * time.Minute
	paymentAbuseThreshold  = 50
)

// PaymentBehavior flags risky payment patterns: unverified bank
// accounts, bursts of large or rapid transactions, and a high
// payment-abuse score.
type PaymentBehavior struct{ env *Env }

func NewPaymentBehavior(env *Env) *PaymentBehavior { return &PaymentBehavior{env: env} }

func (a *PaymentBehavior) Type() string { return core.AgentPaymentBehavior }

func (a *PaymentBehavior) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	userData := asMap(user["user_data"])
	siftData := asMap(user["sift_data"])
	accounts := asSlice(userData["bank_accounts"])

	var checks []core.Check

	verified := 0
	for _, raw := range accounts {
		if boolean(asMap(raw), "verified") {
			verified++
		}
	}
	checks = append(checks, core.Check{
		Name:    "Bank Account Verification",
		Status:  passFail(verified > 0),
		Details: fmt.Sprintf("Verified bank accounts: %d", verified),
	})

	checks = append(checks, a.transactionPattern(accounts))

	abuseScore := num(asMap(siftData["scores"]), "payment_abuse")
	checks = append(checks, core.Check{
		Name:    "Sift Payment Abuse Score",
		Status:  passFail(abuseScore <= paymentAbuseThreshold),
		Details: fmt.Sprintf("Payment abuse score: %g, threshold: %d", abuseScore, paymentAbuseThreshold),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "payment_abuse_score": abuseScore,
	}, `
Analyze the payment behavior and bank account information to identify any
suspicious patterns or fraud indicators. Consider:
1. Bank account verification status
2. Transaction patterns, focusing on unusually large or frequent transactions
3. Payment abuse risk score

Your response should include:
1. An overall risk assessment of the payment behavior
2. Specific suspicious patterns or red flags identified
3. Recommendations for additional verification or monitoring`)

	return successResult(a.Type(), summaryOr(analysis, "Payment behavior analysis completed"), checks), nil
}

// transactionPattern sorts all transactions by date and counts large
// ones and sub-10-minute gaps. More than 2 large or more than 1 rapid
// pair fails the check.
func (a *PaymentBehavior) transactionPattern(accounts []interface{}) core.Check {
	type txn struct {
		at     time.Time
		amount float64
	}
	var txns []txn
	for _, rawAccount := range accounts {
		for _, rawTxn := range asSlice(asMap(rawAccount)["last_transactions"]) {
			m := asMap(rawTxn)
			at, ok := parseTime(str(m, "date"))
			if !ok {
				continue
			}
			txns = append(txns, txn{at: at, amount: num(m, "amount")})
		}
	}
	if len(txns) == 0 {
		return core.Check{
			Name:    "Transaction Pattern Analysis",
			Status:  core.CheckNotApplicable,
			Details: "No transaction history available",
		}
	}

	sort.Slice(txns, func(i, j int) bool { return txns[i].at.Before(txns[j].at) })

	large, rapid := 0, 0
	for i, t := range txns {
		if t.amount > largeTransactionAmount {
			large++
		}
		if i > 0 && t.at.Sub(txns[i-1].at) < rapidTransactionWindow {
			rapid++
		}
	}

	risky := large > 2 || rapid > 1
	return core.Check{
		Name:    "Transaction Pattern Analysis",
		Status:  passFail(!risky),
		Details: fmt.Sprintf("Large transactions: %d, Rapid transactions: %d", large, rapid),
	}
}

// Login anomaly thresholds.
const (
	impossibleTravelWindow = 2 * time.Hour
	maxUniqueDevices       = 5
	maxFailedLogins        = 3
)

// LoginActivities looks for account-takeover signals: impossible
// travel between login locations, too many devices, suspicious IPs,
// and repeated failed logins.
type LoginActivities struct{ env *Env }

func NewLoginActivities(env *Env) *LoginActivities { return &LoginActivities{env: env} }

func (a *LoginActivities) Type() string { return core.AgentLoginActivities }

func (a *LoginActivities) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	userData := asMap(user["user_data"])
	siftData := asMap(user["sift_data"])
	logins := asSlice(userData["login_activities"])

	var checks []core.Check
	checks = append(checks, a.locationAnalysis(logins))
	checks = append(checks, a.deviceAnalysis(logins))
	checks = append(checks, a.ipAnalysis(logins))
	checks = append(checks, a.failureAnalysis(siftData))

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "login_activities": logins,
	}, `
Analyze the login activities to identify any suspicious patterns or security risks.
Consider:
1. Login locations and potential impossible travel between locations
2. Number and variety of devices used
3. IP addresses and their reputation
4. Failed login attempts

Your response should include:
1. An overall risk assessment of the login behavior
2. Specific suspicious patterns or anomalies detected
3. Recommendations for additional security measures`)

	return successResult(a.Type(), summaryOr(analysis, "Login activities analysis completed"), checks), nil
}

// locationAnalysis flags two logins from different locations less than
// two hours apart.
func (a *LoginActivities) locationAnalysis(logins []interface{}) core.Check {
	type login struct {
		at       time.Time
		location string
	}
	var dated []login
	unique := map[string]bool{}
	for _, raw := range logins {
		m := asMap(raw)
		loc := str(m, "location")
		if loc != "" {
			unique[loc] = true
		}
		if at, ok := parseTime(str(m, "date")); ok {
			dated = append(dated, login{at: at, location: loc})
		}
	}
	sort.Slice(dated, func(i, j int) bool { return dated[i].at.Before(dated[j].at) })

	impossible := false
	for i := 1; i < len(dated); i++ {
		if dated[i].location != dated[i-1].location &&
			dated[i].at.Sub(dated[i-1].at) < impossibleTravelWindow {
			impossible = true
			break
		}
	}
	return core.Check{
		Name:    "Login Location Analysis",
		Status:  passFail(!impossible),
		Details: fmt.Sprintf("Unique locations: %d, Impossible travel detected: %t", len(unique), impossible),
	}
}

func (a *LoginActivities) deviceAnalysis(logins []interface{}) core.Check {
	devices := map[string]bool{}
	for _, raw := range logins {
		if d := str(asMap(raw), "device"); d != "" {
			devices[d] = true
		}
	}
	excessive := len(devices) > maxUniqueDevices
	return core.Check{
		Name:    "Device Analysis",
		Status:  passFail(!excessive),
		Details: fmt.Sprintf("Unique devices: %d, Excessive devices: %t", len(devices), excessive),
	}
}

func (a *LoginActivities) ipAnalysis(logins []interface{}) core.Check {
	suspicious := 0
	for _, raw := range logins {
		ip := str(asMap(raw), "ip")
		if ip == "" {
			continue
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil || addr.IsPrivate() {
			suspicious++
		}
	}
	return core.Check{
		Name:    "IP Analysis",
		Status:  passFail(suspicious == 0),
		Details: fmt.Sprintf("Suspicious IPs: %d", suspicious),
	}
}

// failureAnalysis counts non-successful login events in the fraud
// provider's activity stream.
func (a *LoginActivities) failureAnalysis(siftData map[string]interface{}) core.Check {
	failed := 0
	for _, raw := range asSlice(asMap(siftData["user"])["activities"]) {
		m := asMap(raw)
		if str(m, "type") == "login" && str(m, "status") != "success" {
			failed++
		}
	}
	excessive := failed > maxFailedLogins
	return core.Check{
		Name:    "Login Failure Analysis",
		Status:  passFail(!excessive),
		Details: fmt.Sprintf("Failed login attempts: %d, Excessive failures: %t", failed, excessive),
	}
}

// Fraud-score thresholds.
const (
	siftScoreThreshold   = 70
	networkRiskThreshold = 60
	maxAssociatedUsers   = 3
)

// SiftVerification evaluates the fraud provider's scores: overall
// score, network risk, and suspicious activity types.
type SiftVerification struct{ env *Env }

func NewSiftVerification(env *Env) *SiftVerification { return &SiftVerification{env: env} }

func (a *SiftVerification) Type() string { return core.AgentSiftVerification }

func (a *SiftVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	siftData := asMap(in.User()["sift_data"])
	siftUser := asMap(siftData["user"])

	var checks []core.Check

	score := num(siftData, "score")
	checks = append(checks, core.Check{
		Name:   "Sift Score",
		Status: passFail(score <= siftScoreThreshold),
		Details: fmt.Sprintf("Sift score: %g, %s threshold (%d)", score,
			ternary(score > siftScoreThreshold, "Above", "Below"), siftScoreThreshold),
	})

	network := asMap(siftUser["network"])
	networkRisk := num(network, "risk_score")
	associated := len(asSlice(network["associated_users"]))
	checks = append(checks, core.Check{
		Name:    "Sift network",
		Status:  passFail(networkRisk <= networkRiskThreshold && associated <= maxAssociatedUsers),
		Details: fmt.Sprintf("Network risk: %g, Associated users: %d", networkRisk, associated),
	})

	suspicious := 0
	for _, raw := range asSlice(siftUser["activities"]) {
		m := asMap(raw)
		typ := str(m, "type")
		if str(m, "status") == "failed" || typ == "chargeback" || typ == "dispute" || typ == "refund" {
			suspicious++
		}
	}
	checks = append(checks, core.Check{
		Name:    "Sift Activities",
		Status:  passFail(suspicious == 0),
		Details: fmt.Sprintf("Suspicious activities: %d found", suspicious),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"sift_score": score, "network_data": network,
	}, `
Analyze the following fraud detection data and identify any concerning patterns.
Look for high-risk indicators in the score, network data, and user activities.
Your response should include:
1. An overall fraud risk assessment: 'low', 'medium', or 'high'
2. Specific suspicious patterns identified, if any
3. Recommendations for additional fraud prevention measures if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Sift verification completed"), checks), nil
}
