package appointment

// Outcome is the clinical result attached when an appointment completes.
// Medication quantities are recorded as given; checking them against stock
// belongs to the pharmacy side.
type Outcome struct {
	ServiceType string
	Notes       string
	Medications []Medication
}

func (o Outcome) clone() Outcome {
	meds := make([]Medication, len(o.Medications))
	for i, m := range o.Medications {
		if m.Status == "" {
			m.Status = MedicationPending
		}
		meds[i] = m
	}
	o.Medications = meds
	return o
}

// attachOutcome moves an approved appointment to completed.
func attachOutcome(a *Appointment, o Outcome) {
	c := o.clone()
	a.Outcome = &c
	a.Status = StatusCompleted
}
