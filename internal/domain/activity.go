package domain

// ActivityType names an audit event in the activity stream.
type ActivityType string

const (
	ActivityContactCreated   ActivityType = "contact_created"
	ActivityContactUpdated   ActivityType = "contact_updated"
	ActivityContactDeleted   ActivityType = "contact_deleted"
	ActivityDealCreated      ActivityType = "deal_created"
	ActivityDealUpdated      ActivityType = "deal_updated"
	ActivityDealStageChanged ActivityType = "deal_stage_changed"
	ActivityDealDeleted      ActivityType = "deal_deleted"
	ActivityTaskCreated      ActivityType = "task_created"
	ActivityTaskUpdated      ActivityType = "task_updated"
	ActivityTaskCompleted    ActivityType = "task_completed"
	ActivityTaskDeleted      ActivityType = "task_deleted"
	ActivityCompanyCreated   ActivityType = "company_created"
	ActivityCompanyUpdated   ActivityType = "company_updated"
	ActivityCompanyDeleted   ActivityType = "company_deleted"
	ActivityUserCreated      ActivityType = "user_created"
	ActivityUserUpdated      ActivityType = "user_updated"
	ActivityNoteCreated      ActivityType = "note_created"
	ActivityNoteUpdated      ActivityType = "note_updated"
	ActivityNoteDeleted      ActivityType = "note_deleted"
	ActivityQuoteCreated     ActivityType = "quote_created"
	ActivityQuoteUpdated     ActivityType = "quote_updated"
	ActivityQuoteDeleted     ActivityType = "quote_deleted"
)

// EntityType names the collection an activity refers to.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityDeal    EntityType = "deal"
	EntityTask    EntityType = "task"
	EntityCompany EntityType = "company"
	EntityUser    EntityType = "user"
	EntityNote    EntityType = "note"
	EntityQuote   EntityType = "quote"
)

var (
	activityTypes = newVocabulary(
		ActivityContactCreated, ActivityContactUpdated, ActivityContactDeleted,
		ActivityDealCreated, ActivityDealUpdated, ActivityDealStageChanged, ActivityDealDeleted,
		ActivityTaskCreated, ActivityTaskUpdated, ActivityTaskCompleted, ActivityTaskDeleted,
		ActivityCompanyCreated, ActivityCompanyUpdated, ActivityCompanyDeleted,
		ActivityUserCreated, ActivityUserUpdated,
		ActivityNoteCreated, ActivityNoteUpdated, ActivityNoteDeleted,
		ActivityQuoteCreated, ActivityQuoteUpdated, ActivityQuoteDeleted,
	)
	entityTypes = newVocabulary(EntityContact, EntityDeal, EntityTask, EntityCompany, EntityUser, EntityNote, EntityQuote)
)

func ParseActivityType(raw string) (ActivityType, bool) { return activityTypes.parse(raw) }
func (t ActivityType) Known() bool                      { return activityTypes.known(t) }

func (t *ActivityType) UnmarshalJSON(data []byte) error {
	*t, _ = activityTypes.parse(decodeEnum(data))
	return nil
}

func ParseEntityType(raw string) (EntityType, bool) { return entityTypes.parse(raw) }
func EntityTypes() []EntityType                     { return entityTypes.values() }
func (t EntityType) Known() bool                    { return entityTypes.known(t) }

func (t *EntityType) UnmarshalJSON(data []byte) error {
	*t, _ = entityTypes.parse(decodeEnum(data))
	return nil
}

// LifecycleActivity returns the activity type recorded when an entity of the
// given kind is created, updated or deleted. verb is one of "created",
// "updated" or "deleted"; unsupported combinations return ok=false.
func LifecycleActivity(entity EntityType, verb string) (ActivityType, bool) {
	return activityTypes.parse(string(entity) + "_" + verb)
}
