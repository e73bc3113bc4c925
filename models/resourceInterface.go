package models

func (l Location) GetClinicId() string {
	return l.ClinicId
}

func (u User) GetClinicId() string {
	return u.ClinicId
}

func (d CashDrawer) GetClinicId() string {
	return d.ClinicId
}

func (t CashTransaction) GetClinicId() string {
	return t.ClinicId
}

func (s Shift) GetClinicId() string {
	return s.ClinicId
}

func (h History) GetClinicId() string {
	return h.ClinicId
}

func (a CashAttachment) GetClinicId() string {
	return a.ClinicId
}

func (s DailyCashSummary) GetClinicId() string {
	return s.ClinicId
}

func (k IdempotencyKey) GetClinicId() string {
	return k.ClinicId
}

func (r CashEventRecord) GetClinicId() string {
	return r.ClinicId
}

func (c PosConnection) GetClinicId() string {
	return c.ClinicId
}

func (r PosSyncRun) GetClinicId() string {
	return r.ClinicId
}
