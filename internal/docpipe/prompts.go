package docpipe

// Document kinds the classifier is allowed to return.
const (
	KindArticlesOfIncorporation  = "articles_of_incorporation"
	KindCertificateOfOrganization = "certificate_of_organization"
	KindEinLetter                = "ein_letter"
	KindGovernmentID             = "government_id"
	KindBusinessLicense          = "business_license"
	KindBankStatement            = "bank_statement"
	KindUtilityBill              = "utility_bill"
	KindSecretaryOfStateFiling   = "secretary_of_state_filing"
	KindProofOfAddress           = "proof_of_address"
	KindOther                    = "other"
)

const classificationPrompt = `Please analyze this document and determine what type of document it is. Classify it as exactly one of:

- articles_of_incorporation: Articles of Incorporation / business formation document
- certificate_of_organization: Certificate of Organization
- ein_letter: EIN letter / IRS tax ID confirmation
- government_id: Government ID (driver's license, passport, etc.)
- business_license: Business license
- bank_statement: Bank statement
- utility_bill: Utility bill
- secretary_of_state_filing: Secretary of State filing confirmation
- proof_of_address: Proof of address document
- other: None of the above

Extract key identifying information in JSON format:

{
    "document_type": "one of the types listed above",
    "document_subtype": "More specific classification if applicable",
    "issuing_authority": "Organization that issued the document",
    "primary_entity": "The main business or person the document pertains to",
    "key_identifiers": ["List of any ID numbers, file numbers, or other key identifiers visible"],
    "dates": {
        "issue_date": "YYYY-MM-DD if visible",
        "expiration_date": "YYYY-MM-DD if visible"
    },
    "confidence": "high/medium/low - your confidence in this classification"
}

Provide the data in valid JSON format only.`

// extractionPrompts maps a document kind to its field-extraction
// prompt. Kinds without an entry use the generic prompt.
var extractionPrompts = map[string]string{
	KindArticlesOfIncorporation:  formationPrompt,
	KindCertificateOfOrganization: formationPrompt,
	KindEinLetter: `Please analyze this EIN (Employer Identification Number) letter or tax ID confirmation and extract the following information in JSON format:

{
    "company_name": "Business name as it appears on the letter",
    "ein": "The EIN number (XX-XXXXXXX format)",
    "address": "Business address",
    "issue_date": "Date the EIN was issued (YYYY-MM-DD format)",
    "tax_classification": "Tax classification if mentioned (e.g., S-Corp, LLC, etc.)",
    "is_official_irs_letter": true/false,
    "letter_type": "SS-4, CP-575, 147C, etc.",
    "responsible_party": "Name of the responsible party if mentioned"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindBusinessLicense: `Please analyze this business license document and extract the following information in JSON format:

{
    "business_name": "Full legal name of the business",
    "license_number": "The business license number",
    "license_type": "Type of license",
    "issuing_authority": "Authority that issued the license",
    "issue_date": "Date issued in YYYY-MM-DD format",
    "expiration_date": "Expiration date in YYYY-MM-DD format",
    "business_address": "Physical address of the business",
    "business_owner": "Name of the business owner if listed",
    "business_activity": "Licensed business activity or classification"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindSecretaryOfStateFiling: `Please analyze this Secretary of State filing document and extract the following information in JSON format:

{
    "business_name": "Full legal name of the business",
    "filing_number": "The filing or document number",
    "filing_type": "Type of filing (annual report, etc.)",
    "filing_date": "Date of filing in YYYY-MM-DD format",
    "effective_date": "Effective date in YYYY-MM-DD format if different",
    "status": "Business status (active, dissolved, etc.)",
    "jurisdiction": "State or jurisdiction of filing",
    "registered_agent": "Name of registered agent if present",
    "business_address": "Business address if listed"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindGovernmentID: `Please analyze this government-issued ID document and extract the following information in JSON format:

{
    "full_name": "Name as printed on the ID",
    "id_type": "driver's license, passport, state ID, etc.",
    "id_number": "The document number",
    "date_of_birth": "YYYY-MM-DD if visible",
    "issue_date": "YYYY-MM-DD if visible",
    "expiration_date": "YYYY-MM-DD if visible",
    "issuing_authority": "State or country that issued the ID",
    "address": "Address printed on the ID if present"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindBankStatement: `Please analyze this bank statement and extract the following information in JSON format:

{
    "account_holder": "Name of the account holder",
    "bank_name": "Name of the bank",
    "account_number_last4": "Last four digits of the account number if visible",
    "statement_period": "Statement period if visible",
    "address": "Account holder address on the statement"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindUtilityBill: `Please analyze this utility bill and extract the following information in JSON format:

{
    "customer_name": "Name of the customer",
    "provider": "Utility provider name",
    "service_address": "Service address on the bill",
    "bill_date": "YYYY-MM-DD if visible",
    "amount_due": "Amount due if visible"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
	KindProofOfAddress: `Please analyze this proof-of-address document and extract the following information in JSON format:

{
    "name": "Name of the person or business",
    "address": "The address being evidenced",
    "document_source": "What kind of document provides the proof",
    "date": "YYYY-MM-DD if visible"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`,
}

const formationPrompt = `Please analyze this business formation document (Articles of Incorporation or Certificate of Organization) and extract the following information in JSON format:

{
    "company_name": "Full legal name of the company",
    "type_of_entity": "LLC, Corporation, etc.",
    "state_of_incorporation": "State where incorporated",
    "date_of_incorporation": "Date in YYYY-MM-DD format",
    "registered_agent": "Name of the registered agent",
    "registered_office_address": "Address of the registered office",
    "business_purpose": "Stated purpose of the business",
    "authorized_shares": "Number of authorized shares (if applicable)",
    "incorporators": ["List of incorporator names"],
    "directors": ["List of director names if present"],
    "filing_number": "Document filing number if present",
    "effective_date": "Effective date of the document if different from incorporation date"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string.`

const genericPrompt = `Please analyze this document and extract all relevant business verification information. Look for:

1. Any business name, EIN/Tax ID numbers, or business identifiers
2. Business formation information (type, date, state)
3. Business address or contact information
4. Any official filing numbers or reference numbers
5. Any dates (issue dates, effective dates, expiration dates)
6. Names of owners, officers, directors, or registered agents
7. Any compliance or status information

Provide the data in JSON format:

{
    "document_type": "Your assessment of what type of document this is",
    "business_name": "Name of the business if present",
    "business_identifiers": {
        "ein": "Tax ID if present",
        "filing_number": "Any filing or registration numbers",
        "other_ids": ["Any other identifying numbers found"]
    },
    "business_details": {
        "type": "Business entity type if present",
        "formation_date": "Date in YYYY-MM-DD format if present",
        "jurisdiction": "State or jurisdiction if present"
    },
    "addresses": ["All business addresses found"],
    "key_individuals": ["Names of owners/officers/agents found"],
    "key_dates": {
        "issue_date": "YYYY-MM-DD if present",
        "effective_date": "YYYY-MM-DD if present",
        "expiration_date": "YYYY-MM-DD if present"
    },
    "status": "Any status information found"
}

Provide the data in valid JSON format only. If any field is not found in the document, leave it as an empty string or empty array.`

// extractionPromptFor returns the per-kind field prompt, falling back
// to the generic one.
func extractionPromptFor(kind string) string {
	if p, ok := extractionPrompts[kind]; ok {
		return p
	}
	return genericPrompt
}
