package capability

import "teacher-agent/internal/domain"

var (
	textIn      = []domain.Modality{domain.ModalityText, domain.ModalityAudio, domain.ModalityImage}
	textOut     = []domain.Modality{domain.ModalityText}
	textImgOut  = []domain.Modality{domain.ModalityText, domain.ModalityImage}
	textAudioIn = []domain.Modality{domain.ModalityText, domain.ModalityAudio}
)

// Descriptors returns the static catalog entries for every capability, keyed
// by name.
func Descriptors() map[domain.CapabilityName]domain.CapabilityDescriptor {
	return map[domain.CapabilityName]domain.CapabilityDescriptor{
		domain.CapabilityTeachingAid: {
			Name:        domain.CapabilityTeachingAid,
			Description: "Generates hyper-local, culturally relevant teaching aids in any language: stories, explanations, analogies, translations and educational images or diagrams.",
			Keywords: []string{
				"story", "stories", "explain", "explanation", "analogy", "translate",
				"translation", "local", "culturally", "diagram", "illustration",
				"picture", "draw", "poster", "visual aid", "teaching aid", "flashcard",
			},
			InputModalities:  textIn,
			OutputModalities: textImgOut,
			Instruction: "Create hyper-local, culturally relevant teaching content in the language the teacher asks for. " +
				"Use simple vocabulary suited to the grade level and examples from the learners' everyday surroundings.",
		},
		domain.CapabilityWorksheetPlanner: {
			Name:        domain.CapabilityWorksheetPlanner,
			Description: "Analyses textbook pages or photos and builds differentiated worksheets, exercises and lesson plans for one or more grade levels.",
			Keywords: []string{
				"worksheet", "worksheets", "lesson plan", "lesson", "textbook",
				"page", "exercise", "exercises", "differentiated", "multi grade",
				"syllabus", "curriculum", "homework", "chapter",
			},
			InputModalities:  textIn,
			OutputModalities: textOut,
			Instruction: "Analyse any textbook page provided and produce differentiated worksheets or lesson plans. " +
				"Group exercises by grade level, state learning objectives and include an answer key.",
		},
		domain.CapabilityReadingAssessment: {
			Name:        domain.CapabilityReadingAssessment,
			Description: "Runs reading assessments: produces grade-appropriate passages and evaluates a student's reading fluency, pronunciation and comprehension from a transcript.",
			Keywords: []string{
				"reading", "read aloud", "fluency", "pronunciation", "passage",
				"assess reading", "reading assessment", "words per minute", "comprehension",
			},
			InputModalities:  textAudioIn,
			OutputModalities: textOut,
			Instruction: "Assess reading. Ask only for the grade level and language when they are missing. " +
				"Compare the transcript with the expected passage and report accuracy, fluency and suggestions.",
		},
		domain.CapabilityAnalytics: {
			Name:        domain.CapabilityAnalytics,
			Description: "Answers questions about students from school records: attendance, behaviour observations, grades and academic performance.",
			Keywords: []string{
				"attendance", "absent", "absence", "present", "behaviour", "behavior",
				"grades", "marks", "score", "scores", "performance", "report card",
				"student record", "student records", "progress",
			},
			InputModalities:  textAudioIn,
			OutputModalities: textOut,
			Instruction: "Answer using only the student records provided. Summarise attendance, behaviour and academic trends and " +
				"say plainly when a record is missing.",
		},
		domain.CapabilityGameGenerator: {
			Name:        domain.CapabilityGameGenerator,
			Description: "Creates simple educational games, quizzes, puzzles and classroom activities for a topic and grade.",
			Keywords: []string{
				"game", "games", "quiz", "quizzes", "puzzle", "crossword", "riddle",
				"activity", "activities", "play", "bingo", "word search",
			},
			InputModalities:  textIn,
			OutputModalities: textOut,
			Instruction: "Design a short classroom game or quiz with rules, materials and an answer key. Keep it playable without special equipment.",
		},
		domain.CapabilityClarify: {
			Name:             domain.CapabilityClarify,
			Description:      "Asks the teacher a brief clarifying question when the request is ambiguous or does not match another capability.",
			InputModalities:  textIn,
			OutputModalities: textOut,
			Instruction:      "The request is ambiguous. Ask one brief, friendly clarifying question and mention what you can help with.",
		},
	}
}

// Order is the registration order of the catalog.
var Order = []domain.CapabilityName{
	domain.CapabilityTeachingAid,
	domain.CapabilityWorksheetPlanner,
	domain.CapabilityReadingAssessment,
	domain.CapabilityAnalytics,
	domain.CapabilityGameGenerator,
	domain.CapabilityClarify,
}

// Deps are the collaborators needed to build the full catalog.
type Deps struct {
	Options    Options
	ImageModel string
	Blobs      domain.BlobStore
	Directory  domain.StudentDirectory
}

// All builds every capability in Order.
func All(d Deps) []domain.Capability {
	descs := Descriptors()
	offered := make([]domain.CapabilityDescriptor, 0, len(Order))
	for _, name := range Order {
		offered = append(offered, descs[name])
	}
	return []domain.Capability{
		NewTeachingAid(d.Options, d.ImageModel, d.Blobs),
		NewWorksheetPlanner(d.Options),
		NewReadingAssessment(d.Options),
		NewAnalytics(d.Options, d.Directory),
		NewGameGenerator(d.Options),
		NewClarify(d.Options, offered),
	}
}
