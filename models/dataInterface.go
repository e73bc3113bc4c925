package models

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

func (u AllUser) GetDefault(id int) Data {
	return AllUser{
		HasId:    HasId{ID: id},
		Role:     UserRoleCashier,
		IsActive: false,
	}
}

func (l AllLocation) GetDefault(id int) Data {
	return AllLocation{
		HasId:    HasId{ID: id},
		IsActive: false,
	}
}
