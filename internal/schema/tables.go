package schema

// Canonical field names. These are stable; CRM labels are not.
const (
	LeadName               = "name"
	LeadEmail              = "email"
	LeadCanonicalID        = "canonical_id"
	LeadCompany            = "company"
	LeadJobTitle           = "job_title"
	LeadPhone              = "phone"
	LeadLinkedIn           = "linkedin"
	LeadIndustry           = "industry"
	LeadInterests          = "interests"
	LeadQualified          = "qualified"
	LeadMissionProgress    = "mission_progress"
	LeadMissionCompletedAt = "mission_completed_at"

	MissionKey         = "key"
	MissionTitle       = "title"
	MissionDescription = "description"
	MissionPoints      = "points"
	MissionOrder       = "sort_order"
	MissionActive      = "active"
	MissionActionPath  = "action_path"

	RaffleTicket    = "ticket_code"
	RafflePrize     = "prize"
	RaffleWinner    = "winner"
	RaffleLead      = "lead"
	RaffleEnteredAt = "entered_at"

	GalleryCaption     = "caption"
	GalleryImageKey    = "image_key"
	GalleryApproved    = "approved"
	GalleryLead        = "lead"
	GallerySubmittedAt = "submitted_at"
)

// LeadTable v3: "Organization" became "Company" (v2), "Role" became
// "Job Title" and "Topics" became "Interests" (v3).
var LeadTable = NewTable("lead", 3,
	Field{Canonical: LeadName, Label: "Name", Kind: KindTitle},
	Field{Canonical: LeadEmail, Label: "Email", Kind: KindRichText},
	Field{Canonical: LeadCanonicalID, Label: "Canonical ID", Kind: KindRichText},
	Field{Canonical: LeadCompany, Label: "Company", Aliases: []string{"Organization"}, Kind: KindRichText},
	Field{Canonical: LeadJobTitle, Label: "Job Title", Aliases: []string{"Role"}, Kind: KindRichText},
	Field{Canonical: LeadPhone, Label: "Phone", Kind: KindRichText},
	Field{Canonical: LeadLinkedIn, Label: "LinkedIn", Aliases: []string{"LinkedIn URL"}, Kind: KindRichText},
	Field{Canonical: LeadIndustry, Label: "Industry", Kind: KindSelect},
	Field{Canonical: LeadInterests, Label: "Interests", Aliases: []string{"Topics"}, Kind: KindMultiSelect},
	Field{Canonical: LeadQualified, Label: "Qualified", Kind: KindCheckbox},
	Field{Canonical: LeadMissionProgress, Label: "Mission Progress", Kind: KindNumber, Integer: true},
	Field{Canonical: LeadMissionCompletedAt, Label: "Mission Completed At", Kind: KindDate},
)

var MissionTable = NewTable("mission", 2,
	Field{Canonical: MissionKey, Label: "Key", Aliases: []string{"Mission ID"}, Kind: KindRichText},
	Field{Canonical: MissionTitle, Label: "Name", Kind: KindTitle},
	Field{Canonical: MissionDescription, Label: "Description", Kind: KindRichText},
	Field{Canonical: MissionPoints, Label: "Points", Aliases: []string{"Point Value"}, Kind: KindNumber, Integer: true},
	Field{Canonical: MissionOrder, Label: "Order", Kind: KindNumber, Integer: true},
	Field{Canonical: MissionActive, Label: "Active", Kind: KindCheckbox},
	Field{Canonical: MissionActionPath, Label: "Action Path", Kind: KindRichText},
)

var RaffleTable = NewTable("raffle_entry", 1,
	Field{Canonical: RaffleTicket, Label: "Ticket", Kind: KindTitle},
	Field{Canonical: RafflePrize, Label: "Prize", Kind: KindSelect},
	Field{Canonical: RaffleWinner, Label: "Winner", Kind: KindCheckbox},
	Field{Canonical: RaffleLead, Label: "Lead", Kind: KindRelation},
	Field{Canonical: RaffleEnteredAt, Label: "Entered At", Kind: KindDate},
)

var GalleryTable = NewTable("gallery_item", 1,
	Field{Canonical: GalleryCaption, Label: "Caption", Kind: KindTitle},
	Field{Canonical: GalleryImageKey, Label: "Image Key", Kind: KindRichText},
	Field{Canonical: GalleryApproved, Label: "Approved", Kind: KindCheckbox},
	Field{Canonical: GalleryLead, Label: "Lead", Kind: KindRelation},
	Field{Canonical: GallerySubmittedAt, Label: "Submitted At", Kind: KindDate},
)
