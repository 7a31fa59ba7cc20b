package models

// PetOwner holds the owner contact block shown on the pet card.
type PetOwner struct {
	Name     string `json:"name" bson:"name"`
	Phone    string `json:"phone" bson:"phone"`
	Location string `json:"location" bson:"location"`
}

// Pet is the profile document under pets/{userID}. One pet per account.
type Pet struct {
	Name       string   `json:"name" bson:"name"`
	Breed      string   `json:"breed" bson:"breed"`
	Sex        string   `json:"sex" bson:"sex"`
	Pedigree   string   `json:"pedigree" bson:"pedigree"`
	Sterilized string   `json:"sterilized" bson:"sterilized"`
	Birthdate  string   `json:"birthdate" bson:"birthdate"`
	Age        string   `json:"age" bson:"age"`
	Color      string   `json:"color" bson:"color"`
	Notes      string   `json:"notes" bson:"notes"`
	Lost       bool     `json:"lost" bson:"lost"`
	AvatarKey  string   `json:"avatarKey,omitempty" bson:"avatarKey,omitempty"`
	Owner      PetOwner `json:"owner" bson:"owner"`
}
