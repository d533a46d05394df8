package recording

import "flightcheck/internal/model"

// AvailabilityOf reports how much of typeID src carries.
func AvailabilityOf(src Source, typeID string) model.Availability {
	if src == nil {
		return model.AvailabilityUnknown
	}
	if src.Apply(Type(typeID)).HasItems() {
		return model.AvailabilityAvailable
	}
	enabled := src.Apply(And(
		Type(SettingType),
		Attr(SettingTypeField, typeID),
		Attr(SettingNameField, SettingEnabled),
	))
	if values, ok := Query[[]string](enabled, Distinct(SettingValue)); ok {
		for _, v := range values {
			if v == "true" {
				return model.AvailabilityEnabled
			}
		}
		return model.AvailabilityDisabled
	}
	types := src.Types()
	if len(types) == 0 {
		return model.AvailabilityUnknown
	}
	for _, t := range types {
		if t.ID == typeID {
			return model.AvailabilityDisabled
		}
	}
	return model.AvailabilityUnavailable
}
