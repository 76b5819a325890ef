package sync

// Tier is the conflict policy applied to one field name.
type Tier uint8

const (
	// TierUnknown fields are not listed in the policy. The server wins
	// and the disagreement is reported back to the client.
	TierUnknown Tier = iota
	// TierServer fields are produced by server-side extraction.
	TierServer
	// TierClient fields carry direct user intent.
	TierClient
	// TierConditional fields are editable on both sides; the client wins
	// only when it declares the field as edited.
	TierConditional
)

func (t Tier) String() string {
	switch t {
	case TierServer:
		return "server"
	case TierClient:
		return "client"
	case TierConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// Policy maps a field name to its tier.
type Policy func(field string) Tier

// Receipt field names with a fixed merge tier.
const (
	FieldExtractedMerchantName = "extractedMerchantName"
	FieldExtractedDate         = "extractedDate"
	FieldExtractedTotal        = "extractedTotal"
	FieldOCRRawText            = "ocrRawText"
	FieldLLMConfidence         = "llmConfidence"

	FieldUserNotes  = "userNotes"
	FieldUserTags   = "userTags"
	FieldIsFavorite = "isFavorite"

	FieldDisplayName    = "displayName"
	FieldCategory       = "category"
	FieldWarrantyMonths = "warrantyMonths"
	FieldDeleted        = "deleted"
)

// ReceiptPolicy is the static tier table for receipts.
func ReceiptPolicy(field string) Tier {
	switch field {
	case FieldExtractedMerchantName, FieldExtractedDate, FieldExtractedTotal,
		FieldOCRRawText, FieldLLMConfidence:
		return TierServer
	case FieldUserNotes, FieldUserTags, FieldIsFavorite:
		return TierClient
	case FieldDisplayName, FieldCategory, FieldWarrantyMonths, FieldDeleted:
		return TierConditional
	default:
		return TierUnknown
	}
}
