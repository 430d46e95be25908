package reminder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validCreateInput(now time.Time) CreateInput {
	return CreateInput{
		Content:       "take out the trash",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	}
}

func TestValidateCreateHappyPath(t *testing.T) {
	now := time.Now().UTC()
	assert.NoError(t, validateCreate(validCreateInput(now), now))
}

func TestValidateCreateContentBounds(t *testing.T) {
	now := time.Now().UTC()

	empty := validCreateInput(now)
	empty.Content = ""
	assert.Error(t, validateCreate(empty, now))

	exact := validCreateInput(now)
	exact.Content = strings.Repeat("a", maxContentLength)
	assert.NoError(t, validateCreate(exact, now))

	tooLong := validCreateInput(now)
	tooLong.Content = strings.Repeat("a", maxContentLength+1)
	assert.Error(t, validateCreate(tooLong, now))
}

func TestValidateCreateTargetUserIDDigitBounds(t *testing.T) {
	now := time.Now().UTC()

	for _, id := range []string{"12345678901234567", "123456789012345678", "1234567890123456789"} {
		in := validCreateInput(now)
		in.TargetUserID = id
		assert.NoError(t, validateCreate(in, now), "id %q (len %d)", id, len(id))
	}

	for _, id := range []string{"1234567890123456", "123456789012345", "12345678901234567890", "abc", ""} {
		in := validCreateInput(now)
		in.TargetUserID = id
		assert.Error(t, validateCreate(in, now), "id %q should be rejected", id)
	}
}

func TestValidateCreateScheduledTimeMustBeFuture(t *testing.T) {
	now := time.Now().UTC()

	inPast := validCreateInput(now)
	inPast.ScheduledTime = now.Add(-time.Minute)
	assert.Error(t, validateCreate(inPast, now))

	exactlyNow := validCreateInput(now)
	exactlyNow.ScheduledTime = now
	assert.Error(t, validateCreate(exactlyNow, now))
}

func TestValidateCreateScheduledTimeHorizon(t *testing.T) {
	now := time.Now().UTC()

	withinHorizon := validCreateInput(now)
	withinHorizon.ScheduledTime = now.Add(maxScheduleHorizon - time.Minute)
	assert.NoError(t, validateCreate(withinHorizon, now))

	beyondHorizon := validCreateInput(now)
	beyondHorizon.ScheduledTime = now.Add(maxScheduleHorizon + time.Hour)
	assert.Error(t, validateCreate(beyondHorizon, now))
}

func TestValidateCreateTimezone(t *testing.T) {
	now := time.Now().UTC()

	valid := validCreateInput(now)
	valid.Timezone = "America/New_York"
	assert.NoError(t, validateCreate(valid, now))

	invalid := validCreateInput(now)
	invalid.Timezone = "Not/AZone"
	assert.Error(t, validateCreate(invalid, now))
}

func TestValidateEscalationBounds(t *testing.T) {
	now := time.Now().UTC()

	base := validCreateInput(now)
	base.Escalation = &EscalationRule{
		SecondaryUserID: "98765432109876543",
		TimeoutMinutes:  30,
	}
	assert.NoError(t, validateCreate(base, now))

	sameAsTarget := validCreateInput(now)
	sameAsTarget.Escalation = &EscalationRule{
		SecondaryUserID: sameAsTarget.TargetUserID,
		TimeoutMinutes:  30,
	}
	assert.Error(t, validateCreate(sameAsTarget, now))

	badTimeout := validCreateInput(now)
	badTimeout.Escalation = &EscalationRule{
		SecondaryUserID: "98765432109876543",
		TimeoutMinutes:  0,
	}
	assert.Error(t, validateCreate(badTimeout, now))

	tooLongTimeout := validCreateInput(now)
	tooLongTimeout.Escalation = &EscalationRule{
		SecondaryUserID: "98765432109876543",
		TimeoutMinutes:  maxTimeoutMinutes + 1,
	}
	assert.Error(t, validateCreate(tooLongTimeout, now))
}

func TestValidateRepeatRule(t *testing.T) {
	now := time.Now().UTC()

	ok := validCreateInput(now)
	ok.RepeatRule = &RepeatRule{Frequency: FrequencyWeekly, Interval: 1, EndCondition: EndConditionNever}
	assert.NoError(t, validateCreate(ok, now))

	badInterval := validCreateInput(now)
	badInterval.RepeatRule = &RepeatRule{Frequency: FrequencyDaily, Interval: 0, EndCondition: EndConditionNever}
	assert.Error(t, validateCreate(badInterval, now))

	badFrequency := validCreateInput(now)
	badFrequency.RepeatRule = &RepeatRule{Frequency: "biweekly", Interval: 1, EndCondition: EndConditionNever}
	assert.Error(t, validateCreate(badFrequency, now))

	countWithoutMax := validCreateInput(now)
	countWithoutMax.RepeatRule = &RepeatRule{Frequency: FrequencyDaily, Interval: 1, EndCondition: EndConditionCount, MaxOccurrences: 0}
	assert.Error(t, validateCreate(countWithoutMax, now))

	dateWithoutEndDate := validCreateInput(now)
	dateWithoutEndDate.RepeatRule = &RepeatRule{Frequency: FrequencyDaily, Interval: 1, EndCondition: EndConditionDate}
	assert.Error(t, validateCreate(dateWithoutEndDate, now))
}
